package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ViewMode selects the calendar layout a schedule drawing belongs to.
type ViewMode int

const (
	ViewModeDay      ViewMode = 0
	ViewModeThreeDay ViewMode = 1
	ViewModeWeek     ViewMode = 2
)

// ErrInvalidViewMode indicates a view mode outside the known set.
var ErrInvalidViewMode = errors.New("model: invalid view mode")

// NewViewMode validates a raw view mode value.
func NewViewMode(value int) (ViewMode, error) {
	switch ViewMode(value) {
	case ViewModeDay, ViewModeThreeDay, ViewModeWeek:
		return ViewMode(value), nil
	}
	return 0, fmt.Errorf("%w: %d", ErrInvalidViewMode, value)
}

// SyncMeta carries the replica bookkeeping shared by every syncable entity.
// Version is server-authoritative; the client keeps the last confirmed value
// and never increments it locally. IsDirty is a sync signal only, never a
// write lock. ChangeSeq counts local edits; acknowledgements compare it
// instead of the second-granular timestamp, so an edit made in the same
// second as a push snapshot still reads as newer.
type SyncMeta struct {
	Version          int64  `gorm:"column:version;not null;default:1"`
	IsDirty          bool   `gorm:"column:is_dirty;not null;default:false;index"`
	SyncedAtSeconds  *int64 `gorm:"column:synced_at_s"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
	ChangeSeq        int64  `gorm:"column:change_seq;not null;default:0"`
}

// Meta exposes the embedded bookkeeping for generic store code.
func (m *SyncMeta) Meta() *SyncMeta { return m }

// Book is an appointment book owning events and schedule drawings.
type Book struct {
	ID                string `gorm:"column:id;primaryKey;size:36;not null"`
	Name              string `gorm:"column:name;size:190;not null"`
	CreatedAtSeconds  int64  `gorm:"column:created_at_s;not null"`
	ArchivedAtSeconds *int64 `gorm:"column:archived_at_s"`
	SyncMeta          `gorm:"embedded"`
}

func (Book) TableName() string { return "books" }

// PrimaryKey returns the book identifier.
func (b *Book) PrimaryKey() string { return b.ID }

// Archived reports whether the book has been soft-deleted.
func (b *Book) Archived() bool { return b.ArchivedAtSeconds != nil }

// Event is a single appointment slot. Rescheduling soft-removes the event
// and links forward via NewEventID; the replacement links back via
// OriginalEventID.
type Event struct {
	ID               string  `gorm:"column:id;primaryKey;size:36;not null"`
	BookID           string  `gorm:"column:book_id;size:36;not null;index"`
	StartSeconds     int64   `gorm:"column:start_s;not null;index"`
	EndSeconds       *int64  `gorm:"column:end_s"`
	PersonName       string  `gorm:"column:person_name;size:190"`
	RecordNumber     string  `gorm:"column:record_number;size:64"`
	PersonNameNorm   string  `gorm:"column:person_name_norm;size:190;index:idx_events_person,priority:1"`
	RecordNumberNorm string  `gorm:"column:record_number_norm;size:64;index:idx_events_person,priority:2"`
	EventTypesJSON   string  `gorm:"column:event_types_json;type:text;not null;default:'[]'"`
	IsRemoved        bool    `gorm:"column:is_removed;not null;default:false"`
	RemovalReason    *string `gorm:"column:removal_reason;size:190"`
	OriginalEventID  *string `gorm:"column:original_event_id;size:36"`
	NewEventID       *string `gorm:"column:new_event_id;size:36"`
	SyncMeta         `gorm:"embedded"`
}

func (Event) TableName() string { return "events" }

// PrimaryKey returns the event identifier.
func (e *Event) PrimaryKey() string { return e.ID }

// PersonKey returns the normalized sharing key derived from the event's
// name and record number fields.
func (e *Event) PersonKey() PersonKey {
	return PersonKey{Name: e.PersonNameNorm, RecordNumber: e.RecordNumberNorm}
}

// ApplyPersonKey recomputes the normalized columns from the raw fields.
// Must be called before persisting whenever PersonName or RecordNumber change.
func (e *Event) ApplyPersonKey() {
	key := NormalizePersonKey(e.PersonName, e.RecordNumber)
	e.PersonNameNorm = key.Name
	e.RecordNumberNorm = key.RecordNumber
}

// EventTypes decodes the serialized event type list.
func (e *Event) EventTypes() ([]string, error) {
	if e.EventTypesJSON == "" {
		return nil, nil
	}
	var types []string
	if err := json.Unmarshal([]byte(e.EventTypesJSON), &types); err != nil {
		return nil, err
	}
	return types, nil
}

// SetEventTypes encodes the event type list for storage.
func (e *Event) SetEventTypes(types []string) error {
	if types == nil {
		types = []string{}
	}
	encoded, err := json.Marshal(types)
	if err != nil {
		return err
	}
	e.EventTypesJSON = string(encoded)
	return nil
}

// Note is a multi-page handwriting payload, linked either 1:1 to an event
// or many-to-one to a person key, never both. PagesJSON is the heavyweight
// cached payload the sweeper may evict; the row itself survives eviction.
type Note struct {
	ID               string `gorm:"column:id;primaryKey;size:36;not null"`
	BookID           string `gorm:"column:book_id;size:36;not null;index"`
	EventID          *string `gorm:"column:event_id;size:36;uniqueIndex"`
	PersonNameNorm   string `gorm:"column:person_name_norm;size:190;index:idx_notes_person,priority:1"`
	RecordNumberNorm string `gorm:"column:record_number_norm;size:64;index:idx_notes_person,priority:2"`
	PagesJSON        string `gorm:"column:pages_json;type:text;not null;default:''"`
	PayloadBytes     int64  `gorm:"column:payload_bytes;not null;default:0"`
	IsDeleted        bool   `gorm:"column:is_deleted;not null;default:false"`
	CachedAtSeconds  *int64 `gorm:"column:cached_at_s;index"`
	CacheHitCount    int64  `gorm:"column:cache_hit_count;not null;default:0"`
	SyncMeta         `gorm:"embedded"`
}

func (Note) TableName() string { return "notes" }

// PrimaryKey returns the note identifier.
func (n *Note) PrimaryKey() string { return n.ID }

// Cached reports whether the payload is currently held locally.
func (n *Note) Cached() bool { return n.CachedAtSeconds != nil && n.PagesJSON != "" }

// ScheduleDrawing is a free-hand overlay on one calendar view, unique per
// (book, date, view mode).
type ScheduleDrawing struct {
	ID              string   `gorm:"column:id;primaryKey;size:36;not null"`
	BookID          string   `gorm:"column:book_id;size:36;not null;uniqueIndex:idx_drawings_slot,priority:1"`
	Date            string   `gorm:"column:date;size:10;not null;uniqueIndex:idx_drawings_slot,priority:2"`
	ViewMode        ViewMode `gorm:"column:view_mode;not null;uniqueIndex:idx_drawings_slot,priority:3"`
	StrokesJSON     string   `gorm:"column:strokes_json;type:text;not null;default:''"`
	PayloadBytes    int64    `gorm:"column:payload_bytes;not null;default:0"`
	IsDeleted       bool     `gorm:"column:is_deleted;not null;default:false"`
	CachedAtSeconds *int64   `gorm:"column:cached_at_s;index"`
	CacheHitCount   int64    `gorm:"column:cache_hit_count;not null;default:0"`
	SyncMeta        `gorm:"embedded"`
}

func (ScheduleDrawing) TableName() string { return "schedule_drawings" }

// PrimaryKey returns the drawing identifier.
func (d *ScheduleDrawing) PrimaryKey() string { return d.ID }

// Cached reports whether the payload is currently held locally.
func (d *ScheduleDrawing) Cached() bool { return d.CachedAtSeconds != nil && d.StrokesJSON != "" }

// PersonChargeItem is a billable item shared across every event whose
// name and record number normalize to the same person key.
type PersonChargeItem struct {
	ID               string `gorm:"column:id;primaryKey;size:36;not null"`
	PersonNameNorm   string `gorm:"column:person_name_norm;size:190;not null;uniqueIndex:idx_charge_items_key,priority:1"`
	RecordNumberNorm string `gorm:"column:record_number_norm;size:64;not null;uniqueIndex:idx_charge_items_key,priority:2"`
	ItemName         string `gorm:"column:item_name;size:190;not null;uniqueIndex:idx_charge_items_key,priority:3"`
	Quantity         int64  `gorm:"column:quantity;not null;default:1"`
	IsDeleted        bool   `gorm:"column:is_deleted;not null;default:false"`
	SyncMeta         `gorm:"embedded"`
}

func (PersonChargeItem) TableName() string { return "person_charge_items" }

// PrimaryKey returns the charge item identifier.
func (c *PersonChargeItem) PrimaryKey() string { return c.ID }

// PersonInfo holds free-form person details shared by person key.
type PersonInfo struct {
	ID               string `gorm:"column:id;primaryKey;size:36;not null"`
	PersonNameNorm   string `gorm:"column:person_name_norm;size:190;not null;uniqueIndex:idx_person_info_key,priority:1"`
	RecordNumberNorm string `gorm:"column:record_number_norm;size:64;not null;uniqueIndex:idx_person_info_key,priority:2"`
	PersonName       string `gorm:"column:person_name;size:190;not null"`
	RecordNumber     string `gorm:"column:record_number;size:64"`
	Memo             string `gorm:"column:memo;type:text;not null;default:''"`
	IsDeleted        bool   `gorm:"column:is_deleted;not null;default:false"`
	SyncMeta         `gorm:"embedded"`
}

func (PersonInfo) TableName() string { return "person_info" }

// PrimaryKey returns the person info identifier.
func (p *PersonInfo) PrimaryKey() string { return p.ID }
