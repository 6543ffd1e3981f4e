package sched

import (
	"context"
	"errors"
	"fmt"

	"github.com/slatebook/slatebook/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SaveDrawing upserts a single schedule drawing into its calendar slot
// with the same optimistic-lock contract as notes.
func (s *Service) SaveDrawing(ctx context.Context, deviceID string, item DrawingUpsert) (DrawingResult, error) {
	var result DrawingResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied, err := s.applyDrawingUpsert(tx, deviceID, item)
		if err != nil {
			return err
		}
		result = applied
		return nil
	})
	if txErr != nil {
		return DrawingResult{}, txErr
	}
	return result, nil
}

// GetDrawing returns the drawing occupying one calendar slot, not-found
// for absent or soft-deleted rows.
func (s *Service) GetDrawing(ctx context.Context, deviceID, bookID, date string, viewMode int) (*Drawing, error) {
	mode, err := model.NewViewMode(viewMode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	tx := s.db.WithContext(ctx)
	if err := s.ownsBook(tx, deviceID, bookID); err != nil {
		return nil, err
	}

	var drawing Drawing
	err = tx.Where("book_id = ? AND date = ? AND view_mode = ?", bookID, date, mode).
		Take(&drawing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.logError(opGetDrawing, "query_failed", err, zap.String("book_id", bookID), zap.String("date", date))
		return nil, newServiceError(opGetDrawing, "query_failed", err)
	}
	if drawing.IsDeleted {
		return nil, ErrNotFound
	}
	return &drawing, nil
}

// DeleteDrawing soft-deletes the slot's drawing with a version bump.
func (s *Service) DeleteDrawing(ctx context.Context, deviceID, bookID, date string, viewMode int) error {
	mode, err := model.NewViewMode(viewMode)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ownsBook(tx, deviceID, bookID); err != nil {
			return err
		}

		var drawing Drawing
		err := tx.Where("book_id = ? AND date = ? AND view_mode = ?", bookID, date, mode).
			Take(&drawing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return newServiceError(opDelDrawing, "query_failed", err)
		}
		if drawing.IsDeleted {
			return nil
		}

		prev := drawing.Version
		drawing.IsDeleted = true
		drawing.Version = prev + 1
		drawing.UpdatedAtSeconds = s.clock().UTC().Unix()
		if err := tx.Save(&drawing).Error; err != nil {
			return newServiceError(opDelDrawing, "save_failed", err)
		}
		return s.writeAudit(tx, deviceID, "drawing", drawing.ID, "delete", pointerTo(prev), drawing.Version)
	})
}
