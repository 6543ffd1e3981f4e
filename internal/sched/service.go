package sched

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew  = "sched.service.new"
	opApplyBatch  = "sched.apply_batch"
	opGetNote     = "sched.get_note"
	opDeleteNote  = "sched.delete_note"
	opBatchNotes  = "sched.batch_notes"
	opGetDrawing  = "sched.get_drawing"
	opDelDrawing  = "sched.delete_drawing"
	opSyncBooks   = "sched.sync_books"
	opSyncEvents  = "sched.sync_events"
	opSyncPersons = "sched.sync_persons"
)

// DefaultMaxBatchItems caps the combined item count of one batch save.
const DefaultMaxBatchItems = 1000

// IDProvider supplies identifiers for server-created rows.
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

// ServiceConfig describes the scheduling service dependencies.
type ServiceConfig struct {
	Database      *gorm.DB
	Clock         func() time.Time
	IDProvider    IDProvider
	Logger        *zap.Logger
	MaxBatchItems int
}

// Service owns the authoritative scheduling tables: batch transaction
// processing, optimistic-lock upserts, and audit logging.
type Service struct {
	db            *gorm.DB
	clock         func() time.Time
	idProvider    IDProvider
	logger        *zap.Logger
	maxBatchItems int
}

// NewService constructs the scheduling service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	maxItems := cfg.MaxBatchItems
	if maxItems <= 0 {
		maxItems = DefaultMaxBatchItems
	}

	return &Service{
		db:            cfg.Database,
		clock:         clock,
		idProvider:    cfg.IDProvider,
		logger:        logger,
		maxBatchItems: maxItems,
	}, nil
}

// ownsBook verifies the book exists and belongs to the device.
func (s *Service) ownsBook(tx *gorm.DB, deviceID, bookID string) error {
	var book Book
	err := tx.Where("id = ?", bookID).Take(&book).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if book.OwnerDeviceID != deviceID {
		return ErrForbidden
	}
	return nil
}

// eventInBook verifies the event exists under the claimed book.
func (s *Service) eventInBook(tx *gorm.DB, bookID, eventID string) error {
	var event Event
	err := tx.Where("id = ?", eventID).Take(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if event.BookID != bookID {
		return ErrValidation
	}
	return nil
}

func (s *Service) writeAudit(tx *gorm.DB, deviceID, entityType, entityID, op string, prevVersion *int64, newVersion int64) error {
	changeID, err := s.idProvider.NewID()
	if err != nil {
		return err
	}
	return tx.Create(&ChangeLog{
		ChangeID:         changeID,
		DeviceID:         deviceID,
		EntityType:       entityType,
		EntityID:         entityID,
		Operation:        op,
		AppliedAtSeconds: s.clock().UTC().Unix(),
		PreviousVersion:  prevVersion,
		NewVersion:       newVersion,
	}).Error
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("sched service error", attrs...)
}

func pointerTo(value int64) *int64 {
	v := value
	return &v
}
