// internal/catalog/domain.go
package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Book is a bibliographic title. Physical items are Copies.
type Book struct {
	ID            uuid.UUID `json:"id" db:"id"`
	ISBN          string    `json:"isbn" db:"isbn"`
	Title         string    `json:"title" db:"title"`
	Author        string    `json:"author" db:"author"`
	Publisher     string    `json:"publisher,omitempty" db:"publisher"`
	PublishedYear int       `json:"published_year,omitempty" db:"published_year"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// CopyStatus is the shelf state of a physical copy.
type CopyStatus string

const (
	CopyAvailable CopyStatus = "AVAILABLE"
	CopyOnLoan    CopyStatus = "ON_LOAN"
	CopyReserved  CopyStatus = "RESERVED"
	CopyLost      CopyStatus = "LOST"
	CopyWithdrawn CopyStatus = "WITHDRAWN"
)

// Copy is one physical, barcoded item of a Book.
type Copy struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	BookID    uuid.UUID  `json:"book_id" db:"book_id"`
	Barcode   string     `json:"barcode" db:"barcode"`
	Status    CopyStatus `json:"status" db:"status"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// Availability counts the copies of a book.
type Availability struct {
	Total     int `json:"total_copies"`
	Available int `json:"available"`
}

// BookAddedEvent is published when a new title enters the catalog.
type BookAddedEvent struct {
	ID     uuid.UUID `json:"id"`
	ISBN   string    `json:"isbn"`
	Title  string    `json:"title"`
	Author string    `json:"author"`
}

// CopyAddedEvent is published when a physical copy is registered.
type CopyAddedEvent struct {
	ID      uuid.UUID `json:"id"`
	BookID  uuid.UUID `json:"book_id"`
	Barcode string    `json:"barcode"`
}

// CopyStatusChangedEvent is published whenever a copy moves between states.
type CopyStatusChangedEvent struct {
	ID   uuid.UUID  `json:"id"`
	From CopyStatus `json:"from"`
	To   CopyStatus `json:"to"`
}

const (
	aggregateBook = "book"
	aggregateCopy = "copy"

	eventBookAdded         = "BookAdded"
	eventCopyAdded         = "CopyAdded"
	eventCopyStatusChanged = "CopyStatusChanged"
)
