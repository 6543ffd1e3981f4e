package store

import (
	"context"
	"errors"
	"time"

	"github.com/slatebook/slatebook/internal/model"
	"gorm.io/gorm"
)

// Drawings extends the generic repository with slot-keyed access. The
// (book, date, view_mode) slot is unique, so writes to an occupied slot
// reuse the existing row instead of tripping the constraint.
type Drawings struct {
	*Repository[model.ScheduleDrawing, *model.ScheduleDrawing]
	db    *gorm.DB
	clock func() time.Time
}

func newDrawings(db *gorm.DB, clock func() time.Time) *Drawings {
	return &Drawings{
		Repository: NewRepository[model.ScheduleDrawing](db, clock),
		db:         db,
		clock:      clock,
	}
}

// BySlot returns the non-deleted drawing occupying one calendar slot.
func (d *Drawings) BySlot(ctx context.Context, bookID, date string, viewMode model.ViewMode) (*model.ScheduleDrawing, error) {
	var drawing model.ScheduleDrawing
	err := d.db.WithContext(ctx).
		Where("book_id = ? AND date = ? AND view_mode = ? AND is_deleted = ?",
			bookID, date, viewMode, false).
		Take(&drawing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &drawing, nil
}

// BySlotIncludingDeleted returns whatever row occupies the slot, live or
// tombstoned.
func (d *Drawings) BySlotIncludingDeleted(ctx context.Context, bookID, date string, viewMode model.ViewMode) (*model.ScheduleDrawing, error) {
	var drawing model.ScheduleDrawing
	err := d.db.WithContext(ctx).
		Where("book_id = ? AND date = ? AND view_mode = ?", bookID, date, viewMode).
		Take(&drawing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &drawing, nil
}

// UpsertSlot writes strokes into a slot. If any row already occupies the
// slot, deleted or not, its identity is reused so the unique constraint
// holds; otherwise the provided drawing is inserted as-is.
func (d *Drawings) UpsertSlot(ctx context.Context, drawing *model.ScheduleDrawing) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.ScheduleDrawing
		err := tx.Where("book_id = ? AND date = ? AND view_mode = ?",
			drawing.BookID, drawing.Date, drawing.ViewMode).
			Take(&existing).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err == nil {
			drawing.ID = existing.ID
			drawing.Version = existing.Version
			drawing.SyncedAtSeconds = existing.SyncedAtSeconds
			drawing.ChangeSeq = existing.ChangeSeq
		}

		drawing.IsDeleted = false
		drawing.PayloadBytes = int64(len(drawing.StrokesJSON))
		if drawing.StrokesJSON != "" {
			cachedAt := d.clock().UTC().Unix()
			drawing.CachedAtSeconds = &cachedAt
		}
		drawing.IsDirty = true
		drawing.UpdatedAtSeconds = d.clock().UTC().Unix()
		drawing.ChangeSeq++
		return tx.Save(drawing).Error
	})
}

// SoftDelete marks the drawing removed locally; the row stays for sync.
func (d *Drawings) SoftDelete(ctx context.Context, id string) error {
	now := d.clock().UTC().Unix()
	return d.db.WithContext(ctx).
		Model(&model.ScheduleDrawing{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"is_deleted":   true,
			"is_dirty":     true,
			"updated_at_s": now,
			"change_seq":   gorm.Expr("change_seq + 1"),
		}).Error
}
