package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/slatebook/slatebook/internal/model"
)

func TestRescheduleLinksChainAndMarksBothDirty(t *testing.T) {
	clock := &fixedClock{now: 1700000000}
	replica := mustStore(t, mustOpenStoreDB(t, "store_reschedule"), clock)

	end := int64(1700005400)
	original := &model.Event{
		ID:           "event-1",
		BookID:       "book-1",
		StartSeconds: 1700003600,
		EndSeconds:   &end,
		PersonName:   "Park Ji Ho",
		RecordNumber: "55",
	}
	if err := replica.Events.Save(context.Background(), original); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	newStart := time.Unix(1700090000, 0).UTC()
	replacement, err := replica.Events.Reschedule(context.Background(), "event-1", newStart, "patient request")
	if err != nil {
		t.Fatalf("reschedule failed: %v", err)
	}

	if replacement.OriginalEventID == nil || *replacement.OriginalEventID != "event-1" {
		t.Fatalf("replacement must link back to the original")
	}
	if replacement.Version != 1 || replacement.SyncedAtSeconds != nil {
		t.Fatalf("replacement is a new row: version %d", replacement.Version)
	}
	if replacement.EndSeconds == nil || *replacement.EndSeconds-replacement.StartSeconds != end-original.StartSeconds {
		t.Fatalf("reschedule must preserve duration")
	}
	if replacement.PersonNameNorm != "park ji ho" {
		t.Fatalf("replacement inherits the person key, got %q", replacement.PersonNameNorm)
	}

	removed, err := replica.Events.Get(context.Background(), "event-1")
	if err != nil {
		t.Fatalf("original lookup failed: %v", err)
	}
	if !removed.IsRemoved {
		t.Fatalf("original must be soft-removed")
	}
	if removed.NewEventID == nil || *removed.NewEventID != replacement.ID {
		t.Fatalf("original must link forward to the replacement")
	}
	if removed.RemovalReason == nil || *removed.RemovalReason != "patient request" {
		t.Fatalf("removal reason must be recorded")
	}
	if !removed.IsDirty || !replacement.IsDirty {
		t.Fatalf("both chain links must await upload")
	}
}

func TestRescheduleRejectsRemovedEvent(t *testing.T) {
	clock := &fixedClock{now: 1700000000}
	replica := mustStore(t, mustOpenStoreDB(t, "store_reschedule_removed"), clock)

	event := &model.Event{ID: "event-1", BookID: "book-1", StartSeconds: 1700003600}
	if err := replica.Events.Save(context.Background(), event); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, err := replica.Events.Reschedule(context.Background(), "event-1", time.Unix(1700090000, 0), ""); err != nil {
		t.Fatalf("first reschedule failed: %v", err)
	}
	if _, err := replica.Events.Reschedule(context.Background(), "event-1", time.Unix(1700099000, 0), ""); !errors.Is(err, ErrEventRemoved) {
		t.Fatalf("expected ErrEventRemoved, got %v", err)
	}
}

func TestActiveExcludesRemovedChainLinks(t *testing.T) {
	clock := &fixedClock{now: 1700000000}
	replica := mustStore(t, mustOpenStoreDB(t, "store_active"), clock)

	event := &model.Event{ID: "event-1", BookID: "book-1", StartSeconds: 1700003600}
	if err := replica.Events.Save(context.Background(), event); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	replacement, err := replica.Events.Reschedule(context.Background(), "event-1", time.Unix(1700007200, 0), "")
	if err != nil {
		t.Fatalf("reschedule failed: %v", err)
	}

	from := time.Unix(1700000000, 0)
	to := time.Unix(1700100000, 0)
	active, err := replica.Events.Active(context.Background(), "book-1", from, to)
	if err != nil {
		t.Fatalf("active failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != replacement.ID {
		t.Fatalf("schedule views show only the live chain link: %+v", active)
	}

	history, err := replica.Events.History(context.Background(), "book-1", from, to)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history keeps the whole chain, got %d rows", len(history))
	}
}

func TestByPersonKeyGroupsAcrossBooks(t *testing.T) {
	clock := &fixedClock{now: 1700000000}
	replica := mustStore(t, mustOpenStoreDB(t, "store_personkey"), clock)

	for i, bookID := range []string{"book-1", "book-2"} {
		event := &model.Event{
			ID:           "event-" + bookID,
			BookID:       bookID,
			StartSeconds: 1700003600 + int64(i),
			PersonName:   "PARK JI HO",
			RecordNumber: "55",
		}
		if err := replica.Events.Save(context.Background(), event); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	key := model.NormalizePersonKey("park ji ho", "55")
	shared, err := replica.Events.ByPersonKey(context.Background(), key)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if len(shared) != 2 {
		t.Fatalf("person key sharing crosses books, got %d events", len(shared))
	}
}
