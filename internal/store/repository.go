package store

import (
	"context"
	"errors"
	"time"

	"github.com/slatebook/slatebook/internal/model"
	"gorm.io/gorm"
)

// ErrNotFound indicates the requested row does not exist locally.
var ErrNotFound = errors.New("store: not found")

// Syncable is implemented by every replica entity pointer.
type Syncable interface {
	PrimaryKey() string
	Meta() *model.SyncMeta
}

// Repository provides typed CRUD over one replica table. Dirtiness is a
// sync signal only: dirty rows stay fully readable and writable.
type Repository[T any, PT interface {
	*T
	Syncable
}] struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewRepository binds a repository to a database handle.
func NewRepository[T any, PT interface {
	*T
	Syncable
}](db *gorm.DB, clock func() time.Time) *Repository[T, PT] {
	if clock == nil {
		clock = time.Now
	}
	return &Repository[T, PT]{db: db, clock: clock}
}

// Get loads one row by primary key.
func (r *Repository[T, PT]) Get(ctx context.Context, id string) (PT, error) {
	var row T
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return PT(&row), nil
}

// List returns every row in the table.
func (r *Repository[T, PT]) List(ctx context.Context) ([]T, error) {
	var rows []T
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Save writes the row and marks it dirty with a fresh updated_at stamp
// and change sequence. Every local mutation flows through here so the
// sync engine sees it.
func (r *Repository[T, PT]) Save(ctx context.Context, entity PT) error {
	meta := entity.Meta()
	meta.IsDirty = true
	meta.UpdatedAtSeconds = r.clock().UTC().Unix()
	meta.ChangeSeq++
	return r.db.WithContext(ctx).Save(entity).Error
}

// SaveClean writes a server-authoritative row without raising the dirty
// flag, used when adopting pulled state.
func (r *Repository[T, PT]) SaveClean(ctx context.Context, entity PT, syncedAt time.Time) error {
	meta := entity.Meta()
	meta.IsDirty = false
	synced := syncedAt.UTC().Unix()
	meta.SyncedAtSeconds = &synced
	if meta.UpdatedAtSeconds == 0 {
		meta.UpdatedAtSeconds = synced
	}
	return r.db.WithContext(ctx).Save(entity).Error
}

// MarkDirty raises the dirty flag and stamps updated_at in one statement.
func (r *Repository[T, PT]) MarkDirty(ctx context.Context, id string) error {
	now := r.clock().UTC().Unix()
	return r.db.WithContext(ctx).
		Model(PT(new(T))).
		Where("id = ?", id).
		Updates(map[string]any{
			"is_dirty":     true,
			"updated_at_s": now,
			"change_seq":   gorm.Expr("change_seq + 1"),
		}).Error
}

// ListDirty returns rows awaiting upload, oldest first so retries never
// starve long-dirty rows.
func (r *Repository[T, PT]) ListDirty(ctx context.Context) ([]T, error) {
	var rows []T
	err := r.db.WithContext(ctx).
		Where("is_dirty = ?", true).
		Order("updated_at_s ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ClearDirty acknowledges a confirmed server acceptance: it drops the dirty
// flag, records the synced time, and adopts the server-returned version.
// The guard on observedChangeSeq keeps an edit made after the push began
// dirty even when it lands in the same second, and the is_dirty guard makes
// a second clear a no-op. The whole read-modify-write is one statement so
// an eviction sweep can never race it.
func (r *Repository[T, PT]) ClearDirty(ctx context.Context, id string, serverVersion int64, observedChangeSeq int64, syncedAt time.Time) error {
	synced := syncedAt.UTC().Unix()
	return r.db.WithContext(ctx).
		Model(PT(new(T))).
		Where("id = ? AND is_dirty = ? AND change_seq <= ?", id, true, observedChangeSeq).
		Updates(map[string]any{
			"is_dirty":    false,
			"synced_at_s": synced,
			"version":     serverVersion,
		}).Error
}

// CountDirty reports how many rows in the table await upload.
func (r *Repository[T, PT]) CountDirty(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(PT(new(T))).
		Where("is_dirty = ?", true).
		Count(&count).Error
	return count, err
}
