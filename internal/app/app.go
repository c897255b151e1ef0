// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"libradesk/internal/catalog"
	"libradesk/internal/circulation"
	"libradesk/internal/config"
	"libradesk/internal/eventstore"
	"libradesk/internal/membership"
	"libradesk/internal/store"
	"libradesk/internal/store/memstore"
	"libradesk/internal/store/pgstore"
	"libradesk/internal/web"
)

// App is the assembled library desk: services over one storage backend and
// the HTTP surface on top of them.
type App struct {
	Members     membership.Service
	Catalog     catalog.Service
	Circulation circulation.Service
	Handler     http.Handler

	db *pgstore.DB
}

type backend struct {
	tx          store.TxRunner
	journal     eventstore.Journal
	members     membership.Repositories
	catalog     catalog.Repositories
	circulation circulation.Repositories
}

// New opens the configured storage and wires every service. With the
// postgres driver the schema is migrated first.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{}

	var b backend
	switch cfg.StorageDriver {
	case config.StoragePostgres:
		db, err := pgstore.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		a.db = db
		b = backend{
			tx:          db,
			journal:     eventstore.NewEventStore(db),
			members:     membership.NewPostgresRepositories(db),
			catalog:     catalog.NewPostgresRepositories(db),
			circulation: circulation.NewPostgresRepositories(db),
		}
	case config.StorageMemory:
		b = backend{
			tx:          memstore.Tx{},
			journal:     eventstore.NewMemoryJournal(),
			members:     membership.NewMemoryRepositories(),
			catalog:     catalog.NewMemoryRepositories(),
			circulation: circulation.NewMemoryRepositories(),
		}
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}

	a.Members = membership.NewService(b.members, b.tx, b.journal, cfg.Policy)
	a.Catalog = catalog.NewService(b.catalog, b.tx, b.journal)
	circ, err := circulation.NewService(b.circulation, b.tx, b.journal, a.Members, a.Catalog, cfg.Policy)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Circulation = circ

	issuer := web.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	a.Handler = web.NewRouter(logger, issuer,
		membership.NewHandler(a.Members, issuer, logger),
		catalog.NewHandler(a.Catalog, logger),
		circulation.NewHandler(a.Circulation, logger),
	)

	logger.InfoContext(ctx, "application assembled", "storage", cfg.StorageDriver)
	return a, nil
}

// Close releases the database connection, if any.
func (a *App) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
