package sched

import "github.com/slatebook/slatebook/internal/model"

// Book is the authoritative appointment book row. A book belongs to the
// device that first uploaded it; scope checks hang off OwnerDeviceID.
type Book struct {
	ID                string `gorm:"column:id;primaryKey;size:36;not null" json:"id"`
	Name              string `gorm:"column:name;size:190;not null" json:"name"`
	OwnerDeviceID     string `gorm:"column:owner_device_id;size:36;not null;index" json:"-"`
	CreatedAtSeconds  int64  `gorm:"column:created_at_s;not null" json:"createdAt"`
	ArchivedAtSeconds *int64 `gorm:"column:archived_at_s" json:"archivedAt,omitempty"`
	Version           int64  `gorm:"column:version;not null;default:1" json:"version"`
	UpdatedAtSeconds  int64  `gorm:"column:updated_at_s;not null" json:"updatedAt"`
}

func (Book) TableName() string { return "books" }

// Event is the authoritative appointment row, reschedule chain included.
type Event struct {
	ID               string  `gorm:"column:id;primaryKey;size:36;not null" json:"id"`
	BookID           string  `gorm:"column:book_id;size:36;not null;index" json:"bookId"`
	StartSeconds     int64   `gorm:"column:start_s;not null" json:"start"`
	EndSeconds       *int64  `gorm:"column:end_s" json:"end,omitempty"`
	PersonName       string  `gorm:"column:person_name;size:190" json:"personName"`
	RecordNumber     string  `gorm:"column:record_number;size:64" json:"recordNumber"`
	PersonNameNorm   string  `gorm:"column:person_name_norm;size:190;index:idx_srv_events_person,priority:1" json:"-"`
	RecordNumberNorm string  `gorm:"column:record_number_norm;size:64;index:idx_srv_events_person,priority:2" json:"-"`
	EventTypesJSON   string  `gorm:"column:event_types_json;type:text;not null;default:'[]'" json:"eventTypes"`
	IsRemoved        bool    `gorm:"column:is_removed;not null;default:false" json:"isRemoved"`
	RemovalReason    *string `gorm:"column:removal_reason;size:190" json:"removalReason,omitempty"`
	OriginalEventID  *string `gorm:"column:original_event_id;size:36" json:"originalEventId,omitempty"`
	NewEventID       *string `gorm:"column:new_event_id;size:36" json:"newEventId,omitempty"`
	Version          int64   `gorm:"column:version;not null;default:1" json:"version"`
	UpdatedAtSeconds int64   `gorm:"column:updated_at_s;not null" json:"updatedAt"`
}

func (Event) TableName() string { return "events" }

// Note is the authoritative handwriting payload, keyed 1:1 to its event.
type Note struct {
	ID               string `gorm:"column:id;primaryKey;size:36;not null" json:"id"`
	BookID           string `gorm:"column:book_id;size:36;not null;index" json:"bookId"`
	EventID          string `gorm:"column:event_id;size:36;not null;uniqueIndex" json:"eventId"`
	StrokesJSON      string `gorm:"column:strokes_json;type:text;not null;default:''" json:"strokesData"`
	IsDeleted        bool   `gorm:"column:is_deleted;not null;default:false" json:"isDeleted"`
	Version          int64  `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null" json:"createdAt"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null" json:"updatedAt"`
}

func (Note) TableName() string { return "notes" }

// Drawing is the authoritative schedule overlay, unique per calendar slot.
type Drawing struct {
	ID               string         `gorm:"column:id;primaryKey;size:36;not null" json:"id"`
	BookID           string         `gorm:"column:book_id;size:36;not null;uniqueIndex:idx_srv_drawings_slot,priority:1" json:"bookId"`
	Date             string         `gorm:"column:date;size:10;not null;uniqueIndex:idx_srv_drawings_slot,priority:2" json:"date"`
	ViewMode         model.ViewMode `gorm:"column:view_mode;not null;uniqueIndex:idx_srv_drawings_slot,priority:3" json:"viewMode"`
	StrokesJSON      string         `gorm:"column:strokes_json;type:text;not null;default:''" json:"strokesData"`
	IsDeleted        bool           `gorm:"column:is_deleted;not null;default:false" json:"isDeleted"`
	Version          int64          `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAtSeconds int64          `gorm:"column:created_at_s;not null" json:"createdAt"`
	UpdatedAtSeconds int64          `gorm:"column:updated_at_s;not null" json:"updatedAt"`
}

func (Drawing) TableName() string { return "schedule_drawings" }

// ChargeItem is a billable item shared under one normalized person key.
type ChargeItem struct {
	ID               string `gorm:"column:id;primaryKey;size:36;not null" json:"id"`
	PersonNameNorm   string `gorm:"column:person_name_norm;size:190;not null;uniqueIndex:idx_srv_charge_key,priority:1" json:"personNameNorm"`
	RecordNumberNorm string `gorm:"column:record_number_norm;size:64;not null;uniqueIndex:idx_srv_charge_key,priority:2" json:"recordNumberNorm"`
	ItemName         string `gorm:"column:item_name;size:190;not null;uniqueIndex:idx_srv_charge_key,priority:3" json:"itemName"`
	Quantity         int64  `gorm:"column:quantity;not null;default:1" json:"quantity"`
	IsDeleted        bool   `gorm:"column:is_deleted;not null;default:false" json:"isDeleted"`
	Version          int64  `gorm:"column:version;not null;default:1" json:"version"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null" json:"updatedAt"`
}

func (ChargeItem) TableName() string { return "person_charge_items" }

// PersonRecord holds free-form person details shared under one key.
type PersonRecord struct {
	ID               string `gorm:"column:id;primaryKey;size:36;not null" json:"id"`
	PersonNameNorm   string `gorm:"column:person_name_norm;size:190;not null;uniqueIndex:idx_srv_person_key,priority:1" json:"personNameNorm"`
	RecordNumberNorm string `gorm:"column:record_number_norm;size:64;not null;uniqueIndex:idx_srv_person_key,priority:2" json:"recordNumberNorm"`
	PersonName       string `gorm:"column:person_name;size:190;not null" json:"personName"`
	RecordNumber     string `gorm:"column:record_number;size:64" json:"recordNumber"`
	Memo             string `gorm:"column:memo;type:text;not null;default:''" json:"memo"`
	IsDeleted        bool   `gorm:"column:is_deleted;not null;default:false" json:"isDeleted"`
	Version          int64  `gorm:"column:version;not null;default:1" json:"version"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null" json:"updatedAt"`
}

func (PersonRecord) TableName() string { return "person_records" }

// ChangeLog is the append-only audit trail of accepted mutations.
type ChangeLog struct {
	ChangeID         string `gorm:"column:change_id;primaryKey;size:190;not null" json:"changeId"`
	DeviceID         string `gorm:"column:device_id;size:36;not null;index:idx_changes_device_time,priority:1" json:"deviceId"`
	EntityType       string `gorm:"column:entity_type;size:32;not null" json:"entityType"`
	EntityID         string `gorm:"column:entity_id;size:36;not null" json:"entityId"`
	Operation        string `gorm:"column:op;size:16;not null" json:"op"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null;index:idx_changes_device_time,priority:2" json:"appliedAt"`
	PreviousVersion  *int64 `gorm:"column:prev_version" json:"prevVersion,omitempty"`
	NewVersion       int64  `gorm:"column:new_version;not null" json:"newVersion"`
}

func (ChangeLog) TableName() string { return "change_log" }

// Models lists every authoritative table for schema migration.
func Models() []any {
	return []any{
		&Book{},
		&Event{},
		&Note{},
		&Drawing{},
		&ChargeItem{},
		&PersonRecord{},
		&ChangeLog{},
	}
}
