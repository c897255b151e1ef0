// cmd/sweeper/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"libradesk/internal/app"
	"libradesk/internal/config"
	"libradesk/internal/logging"
	"libradesk/internal/telemetry"
)

var version = "dev"

// sweeper runs one maintenance pass: overdue loans, stale pickups and
// lapsed memberships. Meant to be scheduled by cron or a k8s CronJob.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	providers, err := telemetry.Setup(ctx, cfg.ServiceName+"-sweeper", version, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}

	code := 0
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		code = 1
	} else {
		report, err := a.Circulation.Sweep(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "sweep failed", "error", err)
			code = 1
		} else {
			logger.InfoContext(ctx, "sweep complete",
				"loans_overdue", report.LoansOverdue,
				"reservations_expired", report.ReservationsExpired,
				"memberships_expired", report.MembershipsExpired,
			)
		}
		a.Close()
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := providers.Shutdown(flushCtx); err != nil {
		logger.Warn("telemetry shutdown", "error", err)
	}
	if code != 0 {
		os.Exit(code)
	}
}
