package sched

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SaveNote upserts a single note under its event with optimistic locking.
// Version semantics match batch items: nil means unconditional overwrite
// with a bump, non-nil must equal the stored version exactly.
func (s *Service) SaveNote(ctx context.Context, deviceID string, item NoteUpsert) (NoteResult, error) {
	var result NoteResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied, err := s.applyNoteUpsert(tx, deviceID, item)
		if err != nil {
			return err
		}
		result = applied
		return nil
	})
	if txErr != nil {
		return NoteResult{}, txErr
	}
	return result, nil
}

// GetNote returns the note linked to the event. Soft-deleted rows read
// back as not found; soft delete is a server-internal concept.
func (s *Service) GetNote(ctx context.Context, deviceID, bookID, eventID string) (*Note, error) {
	tx := s.db.WithContext(ctx)
	if err := s.ownsBook(tx, deviceID, bookID); err != nil {
		return nil, err
	}

	var note Note
	err := tx.Where("event_id = ? AND book_id = ?", eventID, bookID).Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.logError(opGetNote, "query_failed", err, zap.String("event_id", eventID))
		return nil, newServiceError(opGetNote, "query_failed", err)
	}
	if note.IsDeleted {
		return nil, ErrNotFound
	}
	return &note, nil
}

// DeleteNote soft-deletes the event's note with a version bump. Deleting
// an absent note is not an error; the outcome is the same.
func (s *Service) DeleteNote(ctx context.Context, deviceID, bookID, eventID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ownsBook(tx, deviceID, bookID); err != nil {
			return err
		}

		var note Note
		err := tx.Where("event_id = ? AND book_id = ?", eventID, bookID).Take(&note).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return newServiceError(opDeleteNote, "query_failed", err)
		}
		if note.IsDeleted {
			return nil
		}

		prev := note.Version
		note.IsDeleted = true
		note.Version = prev + 1
		note.UpdatedAtSeconds = s.clock().UTC().Unix()
		if err := tx.Save(&note).Error; err != nil {
			return newServiceError(opDeleteNote, "save_failed", err)
		}
		return s.writeAudit(tx, deviceID, "note", note.ID, "delete", pointerTo(prev), note.Version)
	})
}

// BatchNotes is the read-only batch fetch across events. No transaction is
// needed; notes on books the device does not own are silently omitted.
func (s *Service) BatchNotes(ctx context.Context, deviceID string, eventIDs []string) ([]Note, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}

	var ownedBookIDs []string
	if err := s.db.WithContext(ctx).
		Model(&Book{}).
		Where("owner_device_id = ?", deviceID).
		Pluck("id", &ownedBookIDs).Error; err != nil {
		s.logError(opBatchNotes, "book_scope_failed", err, zap.String("device_id", deviceID))
		return nil, newServiceError(opBatchNotes, "book_scope_failed", err)
	}
	if len(ownedBookIDs) == 0 {
		return nil, nil
	}

	var notes []Note
	err := s.db.WithContext(ctx).
		Where("event_id IN ? AND book_id IN ? AND is_deleted = ?", eventIDs, ownedBookIDs, false).
		Find(&notes).Error
	if err != nil {
		s.logError(opBatchNotes, "query_failed", err, zap.Int("event_count", len(eventIDs)))
		return nil, newServiceError(opBatchNotes, "query_failed", err)
	}
	return notes, nil
}
