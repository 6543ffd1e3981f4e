package sched

import (
	"context"
	"errors"
	"fmt"

	"github.com/slatebook/slatebook/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NoteUpsert is one note item of a batch save. A nil Version means
// unconditional overwrite (or create); a non-nil Version must match the
// stored row exactly.
type NoteUpsert struct {
	EventID     string
	BookID      string
	StrokesData string
	Version     *int64
}

// DrawingUpsert is one schedule drawing item of a batch save, addressed by
// its calendar slot.
type DrawingUpsert struct {
	BookID      string
	Date        string
	ViewMode    int
	StrokesData string
	Version     *int64
}

// BatchRequest is the full payload of one atomic batch save.
type BatchRequest struct {
	Notes    []NoteUpsert
	Drawings []DrawingUpsert
}

// NoteResult reports one applied note item, keyed the way clients address
// notes: by event.
type NoteResult struct {
	EventID string
	NoteID  string
	Version int64
}

// DrawingResult reports one applied drawing item, keyed by calendar slot.
type DrawingResult struct {
	BookID    string
	Date      string
	ViewMode  model.ViewMode
	DrawingID string
	Version   int64
}

// BatchResult reports every applied item. Because the batch is
// all-or-nothing there is no partial-failure shape: on any error zero
// items were persisted.
type BatchResult struct {
	Notes    []NoteResult
	Drawings []DrawingResult
}

// ApplyBatch applies every item of the batch inside one database
// transaction. Any scope, validation, or version failure rolls the whole
// batch back. The item ceiling is checked before the transaction opens.
func (s *Service) ApplyBatch(ctx context.Context, deviceID string, batch BatchRequest) (BatchResult, error) {
	total := len(batch.Notes) + len(batch.Drawings)
	if total == 0 {
		return BatchResult{}, newServiceError(opApplyBatch, "empty_batch", ErrValidation)
	}
	if total > s.maxBatchItems {
		return BatchResult{}, fmt.Errorf("%w: %d items over ceiling %d", ErrBatchTooLarge, total, s.maxBatchItems)
	}

	var result BatchResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Items apply in submitted order, notes before drawings, matching
		// the request body layout.
		for _, item := range batch.Notes {
			applied, err := s.applyNoteUpsert(tx, deviceID, item)
			if err != nil {
				return err
			}
			result.Notes = append(result.Notes, applied)
		}
		for _, item := range batch.Drawings {
			applied, err := s.applyDrawingUpsert(tx, deviceID, item)
			if err != nil {
				return err
			}
			result.Drawings = append(result.Drawings, applied)
		}
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrValidation) && !errors.Is(txErr, ErrForbidden) && !errors.Is(txErr, ErrNotFound) {
			if _, ok := AsConflict(txErr); !ok {
				s.logError(opApplyBatch, "transaction_failed", txErr, zap.String("device_id", deviceID))
			}
		}
		return BatchResult{}, txErr
	}
	return result, nil
}

func (s *Service) applyNoteUpsert(tx *gorm.DB, deviceID string, item NoteUpsert) (NoteResult, error) {
	if item.EventID == "" || item.BookID == "" {
		return NoteResult{}, fmt.Errorf("%w: note item missing event or book id", ErrValidation)
	}
	if err := s.ownsBook(tx, deviceID, item.BookID); err != nil {
		return NoteResult{}, err
	}
	if err := s.eventInBook(tx, item.BookID, item.EventID); err != nil {
		if errors.Is(err, ErrValidation) {
			return NoteResult{}, fmt.Errorf("%w: event %s not in book %s", ErrValidation, item.EventID, item.BookID)
		}
		return NoteResult{}, err
	}

	var existing Note
	exists := true
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("event_id = ?", item.EventID).
		Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		exists = false
	} else if err != nil {
		return NoteResult{}, newServiceError(opApplyBatch, "note_select_failed", err)
	}

	nextVersion, ok := resolveUpsert(existing.Version, exists, item.Version)
	if !ok {
		return NoteResult{}, &ConflictError{
			EntityType:    "note",
			EntityID:      item.EventID,
			ServerVersion: existing.Version,
			ServerData:    existing.StrokesJSON,
		}
	}

	now := s.clock().UTC().Unix()
	var prevVersion *int64
	if exists {
		prevVersion = pointerTo(existing.Version)
		existing.StrokesJSON = item.StrokesData
		existing.IsDeleted = false
		existing.Version = nextVersion
		existing.UpdatedAtSeconds = now
		if err := tx.Save(&existing).Error; err != nil {
			return NoteResult{}, newServiceError(opApplyBatch, "note_save_failed", err)
		}
	} else {
		id, err := s.idProvider.NewID()
		if err != nil {
			return NoteResult{}, newServiceError(opApplyBatch, "id_generation_failed", err)
		}
		existing = Note{
			ID:               id,
			BookID:           item.BookID,
			EventID:          item.EventID,
			StrokesJSON:      item.StrokesData,
			Version:          nextVersion,
			CreatedAtSeconds: now,
			UpdatedAtSeconds: now,
		}
		if err := tx.Create(&existing).Error; err != nil {
			return NoteResult{}, newServiceError(opApplyBatch, "note_create_failed", err)
		}
	}

	if err := s.writeAudit(tx, deviceID, "note", existing.ID, "upsert", prevVersion, nextVersion); err != nil {
		return NoteResult{}, newServiceError(opApplyBatch, "audit_insert_failed", err)
	}
	return NoteResult{EventID: item.EventID, NoteID: existing.ID, Version: nextVersion}, nil
}

func (s *Service) applyDrawingUpsert(tx *gorm.DB, deviceID string, item DrawingUpsert) (DrawingResult, error) {
	if item.BookID == "" || item.Date == "" {
		return DrawingResult{}, fmt.Errorf("%w: drawing item missing book or date", ErrValidation)
	}
	viewMode, err := model.NewViewMode(item.ViewMode)
	if err != nil {
		return DrawingResult{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.ownsBook(tx, deviceID, item.BookID); err != nil {
		return DrawingResult{}, err
	}

	var existing Drawing
	exists := true
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("book_id = ? AND date = ? AND view_mode = ?", item.BookID, item.Date, viewMode).
		Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		exists = false
	} else if err != nil {
		return DrawingResult{}, newServiceError(opApplyBatch, "drawing_select_failed", err)
	}

	nextVersion, ok := resolveUpsert(existing.Version, exists, item.Version)
	if !ok {
		return DrawingResult{}, &ConflictError{
			EntityType:    "drawing",
			EntityID:      fmt.Sprintf("%s/%s/%d", item.BookID, item.Date, viewMode),
			ServerVersion: existing.Version,
			ServerData:    existing.StrokesJSON,
		}
	}

	now := s.clock().UTC().Unix()
	var prevVersion *int64
	if exists {
		prevVersion = pointerTo(existing.Version)
		existing.StrokesJSON = item.StrokesData
		existing.IsDeleted = false
		existing.Version = nextVersion
		existing.UpdatedAtSeconds = now
		if err := tx.Save(&existing).Error; err != nil {
			return DrawingResult{}, newServiceError(opApplyBatch, "drawing_save_failed", err)
		}
	} else {
		id, err := s.idProvider.NewID()
		if err != nil {
			return DrawingResult{}, newServiceError(opApplyBatch, "id_generation_failed", err)
		}
		existing = Drawing{
			ID:               id,
			BookID:           item.BookID,
			Date:             item.Date,
			ViewMode:         viewMode,
			StrokesJSON:      item.StrokesData,
			Version:          nextVersion,
			CreatedAtSeconds: now,
			UpdatedAtSeconds: now,
		}
		if err := tx.Create(&existing).Error; err != nil {
			return DrawingResult{}, newServiceError(opApplyBatch, "drawing_create_failed", err)
		}
	}

	if err := s.writeAudit(tx, deviceID, "drawing", existing.ID, "upsert", prevVersion, nextVersion); err != nil {
		return DrawingResult{}, newServiceError(opApplyBatch, "audit_insert_failed", err)
	}
	return DrawingResult{BookID: item.BookID, Date: item.Date, ViewMode: viewMode, DrawingID: existing.ID, Version: nextVersion}, nil
}
