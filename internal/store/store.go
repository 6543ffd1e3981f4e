package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/slatebook/slatebook/internal/model"
	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("store: database handle is required")

// IDProvider supplies identifiers for locally created rows.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// Config describes the dependencies for a replica store.
type Config struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
}

// Store bundles typed repositories over the local replica tables.
type Store struct {
	Books       *Repository[model.Book, *model.Book]
	Events      *Events
	Notes       *Notes
	Drawings    *Drawings
	ChargeItems *Repository[model.PersonChargeItem, *model.PersonChargeItem]
	PersonInfo  *Repository[model.PersonInfo, *model.PersonInfo]

	db    *gorm.DB
	clock func() time.Time
}

// New constructs the replica store.
func New(cfg Config) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}

	return &Store{
		Books:       NewRepository[model.Book](cfg.Database, clock),
		Events:      newEvents(cfg.Database, clock, ids),
		Notes:       newNotes(cfg.Database, clock),
		Drawings:    newDrawings(cfg.Database, clock),
		ChargeItems: NewRepository[model.PersonChargeItem](cfg.Database, clock),
		PersonInfo:  NewRepository[model.PersonInfo](cfg.Database, clock),
		db:          cfg.Database,
		clock:       clock,
	}, nil
}

// Models lists every replica table for schema migration.
func Models() []any {
	return []any{
		&model.Book{},
		&model.Event{},
		&model.Note{},
		&model.ScheduleDrawing{},
		&model.PersonChargeItem{},
		&model.PersonInfo{},
	}
}
