package store

import (
	"context"
	"errors"
	"time"

	"github.com/slatebook/slatebook/internal/model"
	"gorm.io/gorm"
)

// ErrNoteLinkAmbiguous indicates a note carrying both an event link and a
// person key; a note is shared one way or the other, never both.
var ErrNoteLinkAmbiguous = errors.New("store: note linked to both event and person key")

// Notes extends the generic repository with link lookups and payload
// bookkeeping for the cache sweeper.
type Notes struct {
	*Repository[model.Note, *model.Note]
	db    *gorm.DB
	clock func() time.Time
}

func newNotes(db *gorm.DB, clock func() time.Time) *Notes {
	return &Notes{
		Repository: NewRepository[model.Note](db, clock),
		db:         db,
		clock:      clock,
	}
}

// Save validates the link invariant, refreshes payload accounting, and
// stamps the cache columns before the dirty write.
func (n *Notes) Save(ctx context.Context, note *model.Note) error {
	if note.EventID != nil && (note.PersonNameNorm != "" || note.RecordNumberNorm != "") {
		return ErrNoteLinkAmbiguous
	}
	note.PayloadBytes = int64(len(note.PagesJSON))
	if note.PagesJSON != "" {
		cachedAt := n.clock().UTC().Unix()
		note.CachedAtSeconds = &cachedAt
	}
	return n.Repository.Save(ctx, note)
}

// ByEvent returns the non-deleted note linked 1:1 to the event.
func (n *Notes) ByEvent(ctx context.Context, eventID string) (*model.Note, error) {
	var note model.Note
	err := n.db.WithContext(ctx).
		Where("event_id = ? AND is_deleted = ?", eventID, false).
		Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &note, nil
}

// ByEventIncludingDeleted returns the note linked to the event regardless
// of deletion state. Refresh flows need to see a local tombstone: the
// event holds at most one note row, and that row's identity must be
// reused rather than shadowed by a fresh insert.
func (n *Notes) ByEventIncludingDeleted(ctx context.Context, eventID string) (*model.Note, error) {
	var note model.Note
	err := n.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &note, nil
}

// ByPersonKey returns the non-deleted notes shared under one person key.
func (n *Notes) ByPersonKey(ctx context.Context, key model.PersonKey) ([]model.Note, error) {
	var rows []model.Note
	err := n.db.WithContext(ctx).
		Where("person_name_norm = ? AND record_number_norm = ? AND is_deleted = ?",
			key.Name, key.RecordNumber, false).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListDirty narrows the generic dirty set to event-linked notes. A
// person-keyed note has no server counterpart; its dirty flag only keeps
// the payload out of eviction sweeps and never signals an upload.
func (n *Notes) ListDirty(ctx context.Context) ([]model.Note, error) {
	var rows []model.Note
	err := n.db.WithContext(ctx).
		Where("is_dirty = ? AND event_id IS NOT NULL", true).
		Order("updated_at_s ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// CountDirty applies the same narrowing as ListDirty.
func (n *Notes) CountDirty(ctx context.Context) (int64, error) {
	var count int64
	err := n.db.WithContext(ctx).
		Model(&model.Note{}).
		Where("is_dirty = ? AND event_id IS NOT NULL", true).
		Count(&count).Error
	return count, err
}

// SoftDelete marks the note removed locally; the row stays for sync.
func (n *Notes) SoftDelete(ctx context.Context, id string) error {
	now := n.clock().UTC().Unix()
	return n.db.WithContext(ctx).
		Model(&model.Note{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"is_deleted":   true,
			"is_dirty":     true,
			"updated_at_s": now,
			"change_seq":   gorm.Expr("change_seq + 1"),
		}).Error
}
