package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/slatebook/slatebook/internal/model"
	"gorm.io/gorm"
)

type fixedClock struct {
	now int64
}

func (c *fixedClock) Now() time.Time { return time.Unix(c.now, 0).UTC() }

func (c *fixedClock) Advance(seconds int64) { c.now += seconds }

func mustOpenStoreDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func mustStore(t *testing.T, db *gorm.DB, clock *fixedClock) *Store {
	t.Helper()
	replica, err := New(Config{Database: db, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return replica
}

func TestSaveMarksDirtyAndStampsUpdatedAt(t *testing.T) {
	clock := &fixedClock{now: 1700000000}
	replica := mustStore(t, mustOpenStoreDB(t, "store_save_dirty"), clock)

	book := &model.Book{ID: "book-1", Name: "clinic", CreatedAtSeconds: clock.now}
	if err := replica.Books.Save(context.Background(), book); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	stored, err := replica.Books.Get(context.Background(), "book-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !stored.IsDirty {
		t.Fatalf("local mutation must raise the dirty flag")
	}
	if stored.UpdatedAtSeconds != 1700000000 {
		t.Fatalf("unexpected updated stamp %d", stored.UpdatedAtSeconds)
	}
}

func TestClearDirtyAdoptsServerVersionAndIsIdempotent(t *testing.T) {
	clock := &fixedClock{now: 1700000000}
	replica := mustStore(t, mustOpenStoreDB(t, "store_clear_dirty"), clock)

	book := &model.Book{ID: "book-1", Name: "clinic", CreatedAtSeconds: clock.now}
	if err := replica.Books.Save(context.Background(), book); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	observed := book.ChangeSeq
	clock.Advance(60)
	if err := replica.Books.ClearDirty(context.Background(), "book-1", 4, observed, clock.Now()); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	stored, err := replica.Books.Get(context.Background(), "book-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.IsDirty {
		t.Fatalf("acknowledged row must be clean")
	}
	if stored.Version != 4 {
		t.Fatalf("expected adopted server version 4, got %d", stored.Version)
	}
	if stored.SyncedAtSeconds == nil || *stored.SyncedAtSeconds != clock.now {
		t.Fatalf("synced stamp missing or wrong: %v", stored.SyncedAtSeconds)
	}

	// A repeat acknowledgement finds no dirty row and changes nothing.
	if err := replica.Books.ClearDirty(context.Background(), "book-1", 9, observed, clock.Now()); err != nil {
		t.Fatalf("repeat clear failed: %v", err)
	}
	stored, _ = replica.Books.Get(context.Background(), "book-1")
	if stored.Version != 4 {
		t.Fatalf("idempotent clear must not move the version, got %d", stored.Version)
	}
}

func TestClearDirtyKeepsRowDirtyWhenEditedMidPush(t *testing.T) {
	clock := &fixedClock{now: 1700000000}
	replica := mustStore(t, mustOpenStoreDB(t, "store_clear_race"), clock)

	book := &model.Book{ID: "book-1", Name: "clinic", CreatedAtSeconds: clock.now}
	if err := replica.Books.Save(context.Background(), book); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	observed := book.ChangeSeq

	// The user edits while the push is in flight.
	clock.Advance(30)
	book.Name = "clinic renamed"
	if err := replica.Books.Save(context.Background(), book); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	if err := replica.Books.ClearDirty(context.Background(), "book-1", 2, observed, clock.Now()); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	stored, err := replica.Books.Get(context.Background(), "book-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !stored.IsDirty {
		t.Fatalf("an edit made after the push began must stay dirty")
	}
}

func TestClearDirtyKeepsSameSecondEditDirty(t *testing.T) {
	clock := &fixedClock{now: 1700000000}
	replica := mustStore(t, mustOpenStoreDB(t, "store_clear_same_second"), clock)

	book := &model.Book{ID: "book-1", Name: "clinic", CreatedAtSeconds: clock.now}
	if err := replica.Books.Save(context.Background(), book); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	observed := book.ChangeSeq

	// The edit lands in the same second as the push snapshot; the change
	// sequence still tells them apart.
	book.Name = "clinic renamed"
	if err := replica.Books.Save(context.Background(), book); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	if err := replica.Books.ClearDirty(context.Background(), "book-1", 2, observed, clock.Now()); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	stored, err := replica.Books.Get(context.Background(), "book-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !stored.IsDirty {
		t.Fatalf("a same-second edit after the push began must stay dirty")
	}
}

func TestListDirtyReturnsOldestFirst(t *testing.T) {
	clock := &fixedClock{now: 1700000000}
	replica := mustStore(t, mustOpenStoreDB(t, "store_list_dirty"), clock)

	for _, id := range []string{"book-a", "book-b", "book-c"} {
		if err := replica.Books.Save(context.Background(), &model.Book{ID: id, Name: id, CreatedAtSeconds: clock.now}); err != nil {
			t.Fatalf("save failed: %v", err)
		}
		clock.Advance(10)
	}
	if err := replica.Books.ClearDirty(context.Background(), "book-b", 1, 1, clock.Now()); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	dirty, err := replica.Books.ListDirty(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(dirty) != 2 {
		t.Fatalf("expected 2 dirty rows, got %d", len(dirty))
	}
	if dirty[0].ID != "book-a" || dirty[1].ID != "book-c" {
		t.Fatalf("dirty rows must come oldest first: %s, %s", dirty[0].ID, dirty[1].ID)
	}

	count, err := replica.Books.CountDirty(context.Background())
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected dirty count 2, got %d", count)
	}
}

func TestMarkDirtyIsSingleRowAndStampsTime(t *testing.T) {
	clock := &fixedClock{now: 1700000000}
	replica := mustStore(t, mustOpenStoreDB(t, "store_mark_dirty"), clock)

	book := &model.Book{ID: "book-1", Name: "clinic", CreatedAtSeconds: clock.now}
	if err := replica.Books.SaveClean(context.Background(), book, clock.Now()); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	clock.Advance(45)
	if err := replica.Books.MarkDirty(context.Background(), "book-1"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	stored, err := replica.Books.Get(context.Background(), "book-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !stored.IsDirty || stored.UpdatedAtSeconds != clock.now {
		t.Fatalf("mark must raise the flag with a fresh stamp: %+v", stored.SyncMeta)
	}
}

func TestGetMissingRowReturnsNotFound(t *testing.T) {
	clock := &fixedClock{now: 1700000000}
	replica := mustStore(t, mustOpenStoreDB(t, "store_get_missing"), clock)

	if _, err := replica.Books.Get(context.Background(), "absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNotesSaveRejectsAmbiguousLink(t *testing.T) {
	clock := &fixedClock{now: 1700000000}
	replica := mustStore(t, mustOpenStoreDB(t, "store_note_link"), clock)

	eventID := "event-1"
	note := &model.Note{
		ID:             "note-1",
		BookID:         "book-1",
		EventID:        &eventID,
		PersonNameNorm: "park ji ho",
	}
	if err := replica.Notes.Save(context.Background(), note); !errors.Is(err, ErrNoteLinkAmbiguous) {
		t.Fatalf("expected ErrNoteLinkAmbiguous, got %v", err)
	}
}

func TestNotesSaveTracksPayloadAccounting(t *testing.T) {
	clock := &fixedClock{now: 1700000000}
	replica := mustStore(t, mustOpenStoreDB(t, "store_note_payload"), clock)

	eventID := "event-1"
	note := &model.Note{
		ID:        "note-1",
		BookID:    "book-1",
		EventID:   &eventID,
		PagesJSON: `[{"strokes":[1,2,3]}]`,
	}
	if err := replica.Notes.Save(context.Background(), note); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if note.PayloadBytes != int64(len(note.PagesJSON)) {
		t.Fatalf("payload bytes must track the payload, got %d", note.PayloadBytes)
	}
	if !note.Cached() {
		t.Fatalf("a freshly written payload is cached")
	}
}

func TestNotesDirtyAccountingSkipsPersonKeyedRows(t *testing.T) {
	clock := &fixedClock{now: 1700000000}
	replica := mustStore(t, mustOpenStoreDB(t, "store_note_person_dirty"), clock)

	note := &model.Note{
		ID:             "note-1",
		BookID:         "book-1",
		PersonNameNorm: "park ji ho",
		PagesJSON:      `[{"strokes":[1]}]`,
	}
	if err := replica.Notes.Save(context.Background(), note); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	// The flag itself stays up: it is what keeps the payload out of
	// eviction sweeps.
	stored, err := replica.Notes.Get(context.Background(), "note-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !stored.IsDirty {
		t.Fatalf("a person-keyed note keeps its dirty flag")
	}

	count, err := replica.Notes.CountDirty(context.Background())
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("a person-keyed note never awaits upload, got count %d", count)
	}
	dirty, err := replica.Notes.ListDirty(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(dirty) != 0 {
		t.Fatalf("a person-keyed note never enters the dirty set, got %d rows", len(dirty))
	}
}
