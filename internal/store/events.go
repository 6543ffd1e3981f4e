package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/slatebook/slatebook/internal/model"
	"gorm.io/gorm"
)

// ErrEventRemoved indicates a reschedule was attempted on an event that is
// already soft-removed and points forward to its replacement.
var ErrEventRemoved = errors.New("store: event already removed")

// Events extends the generic repository with schedule queries and the
// reschedule chain operation.
type Events struct {
	*Repository[model.Event, *model.Event]
	db    *gorm.DB
	clock func() time.Time
	ids   IDProvider
}

func newEvents(db *gorm.DB, clock func() time.Time, ids IDProvider) *Events {
	return &Events{
		Repository: NewRepository[model.Event](db, clock),
		db:         db,
		clock:      clock,
		ids:        ids,
	}
}

// Save recomputes the person key columns before delegating to the
// repository write.
func (e *Events) Save(ctx context.Context, event *model.Event) error {
	event.ApplyPersonKey()
	return e.Repository.Save(ctx, event)
}

// Active returns the events that belong on a schedule view: removed links
// of reschedule chains are excluded.
func (e *Events) Active(ctx context.Context, bookID string, from, to time.Time) ([]model.Event, error) {
	var rows []model.Event
	err := e.db.WithContext(ctx).
		Where("book_id = ? AND is_removed = ? AND start_s >= ? AND start_s < ?",
			bookID, false, from.UTC().Unix(), to.UTC().Unix()).
		Order("start_s ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// History returns every event in the range, removed links included, for
// audit views.
func (e *Events) History(ctx context.Context, bookID string, from, to time.Time) ([]model.Event, error) {
	var rows []model.Event
	err := e.db.WithContext(ctx).
		Where("book_id = ? AND start_s >= ? AND start_s < ?",
			bookID, from.UTC().Unix(), to.UTC().Unix()).
		Order("start_s ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ByPersonKey returns the active events sharing one normalized person key.
func (e *Events) ByPersonKey(ctx context.Context, key model.PersonKey) ([]model.Event, error) {
	var rows []model.Event
	err := e.db.WithContext(ctx).
		Where("person_name_norm = ? AND record_number_norm = ? AND is_removed = ?",
			key.Name, key.RecordNumber, false).
		Order("start_s ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Reschedule soft-removes the event and creates its replacement at the new
// time, linking the two so the chain survives for audit. Both rows come out
// dirty and flow to the server on the next push.
func (e *Events) Reschedule(ctx context.Context, eventID string, newStart time.Time, reason string) (*model.Event, error) {
	var replacement *model.Event

	txErr := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var original model.Event
		err := tx.Where("id = ?", eventID).Take(&original).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if original.IsRemoved {
			return fmt.Errorf("%w: %s", ErrEventRemoved, eventID)
		}

		newID, err := e.ids.NewID()
		if err != nil {
			return err
		}

		now := e.clock().UTC().Unix()

		next := original
		next.ID = newID
		next.StartSeconds = newStart.UTC().Unix()
		if original.EndSeconds != nil {
			duration := *original.EndSeconds - original.StartSeconds
			end := next.StartSeconds + duration
			next.EndSeconds = &end
		}
		next.OriginalEventID = &original.ID
		next.NewEventID = nil
		next.IsRemoved = false
		next.RemovalReason = nil
		next.Version = 1
		next.IsDirty = true
		next.SyncedAtSeconds = nil
		next.UpdatedAtSeconds = now
		next.ChangeSeq = 1
		if err := tx.Create(&next).Error; err != nil {
			return err
		}

		original.IsRemoved = true
		if reason != "" {
			original.RemovalReason = &reason
		}
		original.NewEventID = &next.ID
		original.IsDirty = true
		original.UpdatedAtSeconds = now
		original.ChangeSeq++
		if err := tx.Save(&original).Error; err != nil {
			return err
		}

		replacement = &next
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return replacement, nil
}
