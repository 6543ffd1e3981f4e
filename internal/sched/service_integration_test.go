package sched

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const (
	testDeviceID  = "device-1"
	otherDeviceID = "device-2"
	testBookID    = "book-1"
	testEventID   = "event-1"
)

type sequentialIDs struct {
	next int
}

func (s *sequentialIDs) NewID() (string, error) {
	s.next++
	return fmt.Sprintf("generated-%d", s.next), nil
}

func mustOpenServiceDB(t *testing.T, name string) *gorm.DB {
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

func mustService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Unix(1700000000, 0) },
		IDProvider: &sequentialIDs{},
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service
}

func mustSeedBook(t *testing.T, db *gorm.DB, bookID, ownerDeviceID string) {
	t.Helper()
	book := Book{
		ID:               bookID,
		Name:             "clinic schedule",
		OwnerDeviceID:    ownerDeviceID,
		CreatedAtSeconds: 1699990000,
		Version:          1,
		UpdatedAtSeconds: 1699990000,
	}
	if err := db.Create(&book).Error; err != nil {
		t.Fatalf("failed to seed book: %v", err)
	}
}

func mustSeedEvent(t *testing.T, db *gorm.DB, eventID, bookID string) {
	t.Helper()
	event := Event{
		ID:               eventID,
		BookID:           bookID,
		StartSeconds:     1700001000,
		EventTypesJSON:   "[]",
		Version:          1,
		UpdatedAtSeconds: 1699990000,
	}
	if err := db.Create(&event).Error; err != nil {
		t.Fatalf("failed to seed event: %v", err)
	}
}

func TestApplyBatchPersistsAllItemsAndReturnsVersions(t *testing.T) {
	db := mustOpenServiceDB(t, "sched_batch_ok")
	service := mustService(t, db)
	mustSeedBook(t, db, testBookID, testDeviceID)
	mustSeedEvent(t, db, testEventID, testBookID)
	mustSeedEvent(t, db, "event-2", testBookID)

	result, err := service.ApplyBatch(context.Background(), testDeviceID, BatchRequest{
		Notes: []NoteUpsert{
			{EventID: testEventID, BookID: testBookID, StrokesData: `[{"page":1}]`},
			{EventID: "event-2", BookID: testBookID, StrokesData: `[{"page":2}]`},
		},
		Drawings: []DrawingUpsert{
			{BookID: testBookID, Date: "2024-05-20", ViewMode: 0, StrokesData: `[]`},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Notes) != 2 || len(result.Drawings) != 1 {
		t.Fatalf("unexpected result shape: %+v", result)
	}
	for _, item := range result.Notes {
		if item.Version != 1 {
			t.Fatalf("new note should land at version 1, got %d", item.Version)
		}
		if item.NoteID == "" {
			t.Fatalf("note result missing generated id")
		}
	}

	var count int64
	if err := db.Model(&Note{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 notes persisted, got %d", count)
	}
}

func TestApplyBatchRollsBackWholeBatchOnConflict(t *testing.T) {
	db := mustOpenServiceDB(t, "sched_batch_conflict")
	service := mustService(t, db)
	mustSeedBook(t, db, testBookID, testDeviceID)
	mustSeedEvent(t, db, testEventID, testBookID)
	mustSeedEvent(t, db, "event-2", testBookID)

	// Seed a stored note at version 2 so a stale supplied version conflicts.
	stored := Note{
		ID:               "note-existing",
		BookID:           testBookID,
		EventID:          "event-2",
		StrokesJSON:      `[{"page":"stored"}]`,
		Version:          2,
		CreatedAtSeconds: 1699990000,
		UpdatedAtSeconds: 1699990000,
	}
	if err := db.Create(&stored).Error; err != nil {
		t.Fatalf("failed to seed note: %v", err)
	}

	stale := int64(1)
	_, err := service.ApplyBatch(context.Background(), testDeviceID, BatchRequest{
		Notes: []NoteUpsert{
			{EventID: testEventID, BookID: testBookID, StrokesData: `[{"page":"fresh"}]`},
			{EventID: "event-2", BookID: testBookID, StrokesData: `[{"page":"stale"}]`, Version: &stale},
		},
	})
	conflict, ok := AsConflict(err)
	if !ok {
		t.Fatalf("expected conflict, got %v", err)
	}
	if conflict.EntityType != "note" || conflict.EntityID != "event-2" {
		t.Fatalf("conflict should identify the item: %+v", conflict)
	}
	if conflict.ServerVersion != 2 {
		t.Fatalf("conflict should carry the stored version, got %d", conflict.ServerVersion)
	}
	if conflict.ServerData != `[{"page":"stored"}]` {
		t.Fatalf("conflict should carry the stored payload, got %q", conflict.ServerData)
	}

	// The first item must not have survived the rollback.
	var count int64
	if err := db.Model(&Note{}).Where("event_id = ?", testEventID).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("conflicting batch must persist nothing, found %d rows", count)
	}
	var untouched Note
	if err := db.Where("id = ?", "note-existing").Take(&untouched).Error; err != nil {
		t.Fatalf("stored note lookup failed: %v", err)
	}
	if untouched.Version != 2 || untouched.StrokesJSON != `[{"page":"stored"}]` {
		t.Fatalf("stored note must stay untouched: %+v", untouched)
	}
}

func TestApplyBatchRejectsOversizedBatchBeforeTransaction(t *testing.T) {
	db := mustOpenServiceDB(t, "sched_batch_ceiling")
	service, err := NewService(ServiceConfig{
		Database:      db,
		IDProvider:    &sequentialIDs{},
		MaxBatchItems: 2,
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	mustSeedBook(t, db, testBookID, testDeviceID)

	batch := BatchRequest{
		Notes: []NoteUpsert{
			{EventID: "e1", BookID: testBookID},
			{EventID: "e2", BookID: testBookID},
			{EventID: "e3", BookID: testBookID},
		},
	}
	if _, err := service.ApplyBatch(context.Background(), testDeviceID, batch); !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("expected ErrBatchTooLarge, got %v", err)
	}
}

func TestApplyBatchRejectsEmptyBatch(t *testing.T) {
	db := mustOpenServiceDB(t, "sched_batch_empty")
	service := mustService(t, db)

	if _, err := service.ApplyBatch(context.Background(), testDeviceID, BatchRequest{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestApplyBatchEnforcesBookScope(t *testing.T) {
	db := mustOpenServiceDB(t, "sched_batch_scope")
	service := mustService(t, db)
	mustSeedBook(t, db, testBookID, otherDeviceID)
	mustSeedEvent(t, db, testEventID, testBookID)

	_, err := service.ApplyBatch(context.Background(), testDeviceID, BatchRequest{
		Notes: []NoteUpsert{{EventID: testEventID, BookID: testBookID, StrokesData: `[]`}},
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestSaveNoteVersionsIncreaseMonotonically(t *testing.T) {
	db := mustOpenServiceDB(t, "sched_note_versions")
	service := mustService(t, db)
	mustSeedBook(t, db, testBookID, testDeviceID)
	mustSeedEvent(t, db, testEventID, testBookID)

	item := NoteUpsert{EventID: testEventID, BookID: testBookID, StrokesData: `[]`}
	previous := int64(0)
	for i := 0; i < 4; i++ {
		result, err := service.SaveNote(context.Background(), testDeviceID, item)
		if err != nil {
			t.Fatalf("save %d failed: %v", i, err)
		}
		if result.Version <= previous {
			t.Fatalf("version must increase, got %d after %d", result.Version, previous)
		}
		previous = result.Version
		version := result.Version
		item.Version = &version
	}
}

func TestGetNoteTreatsSoftDeletedAsNotFound(t *testing.T) {
	db := mustOpenServiceDB(t, "sched_note_deleted")
	service := mustService(t, db)
	mustSeedBook(t, db, testBookID, testDeviceID)
	mustSeedEvent(t, db, testEventID, testBookID)

	if _, err := service.SaveNote(context.Background(), testDeviceID, NoteUpsert{
		EventID: testEventID, BookID: testBookID, StrokesData: `[]`,
	}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := service.DeleteNote(context.Background(), testDeviceID, testBookID, testEventID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := service.GetNote(context.Background(), testDeviceID, testBookID, testEventID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("soft-deleted note must read as not found, got %v", err)
	}
	// Deleting again is a no-op, not an error.
	if err := service.DeleteNote(context.Background(), testDeviceID, testBookID, testEventID); err != nil {
		t.Fatalf("repeat delete should succeed: %v", err)
	}
}

func TestSaveDrawingReusesSlotRow(t *testing.T) {
	db := mustOpenServiceDB(t, "sched_drawing_slot")
	service := mustService(t, db)
	mustSeedBook(t, db, testBookID, testDeviceID)

	first, err := service.SaveDrawing(context.Background(), testDeviceID, DrawingUpsert{
		BookID: testBookID, Date: "2024-05-20", ViewMode: 1, StrokesData: `[1]`,
	})
	if err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	second, err := service.SaveDrawing(context.Background(), testDeviceID, DrawingUpsert{
		BookID: testBookID, Date: "2024-05-20", ViewMode: 1, StrokesData: `[2]`,
	})
	if err != nil {
		t.Fatalf("second save failed: %v", err)
	}
	if first.DrawingID != second.DrawingID {
		t.Fatalf("slot must reuse its row: %s vs %s", first.DrawingID, second.DrawingID)
	}
	if second.Version != first.Version+1 {
		t.Fatalf("expected version bump, got %d after %d", second.Version, first.Version)
	}

	var count int64
	if err := db.Model(&Drawing{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("one slot means one row, got %d", count)
	}
}

func TestSaveDrawingRejectsInvalidViewMode(t *testing.T) {
	db := mustOpenServiceDB(t, "sched_drawing_mode")
	service := mustService(t, db)
	mustSeedBook(t, db, testBookID, testDeviceID)

	_, err := service.SaveDrawing(context.Background(), testDeviceID, DrawingUpsert{
		BookID: testBookID, Date: "2024-05-20", ViewMode: 9, StrokesData: `[]`,
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSyncBooksRejectsOtherDevicesBook(t *testing.T) {
	db := mustOpenServiceDB(t, "sched_sync_scope")
	service := mustService(t, db)
	mustSeedBook(t, db, testBookID, otherDeviceID)

	_, err := service.SyncBooks(context.Background(), testDeviceID, []BookUpsert{
		{ID: testBookID, Name: "hijack"},
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestSyncBooksPerItemConflictKeepsOtherItems(t *testing.T) {
	db := mustOpenServiceDB(t, "sched_sync_conflict")
	service := mustService(t, db)
	mustSeedBook(t, db, testBookID, testDeviceID)

	stale := int64(7)
	outcomes, err := service.SyncBooks(context.Background(), testDeviceID, []BookUpsert{
		{ID: testBookID, Name: "renamed", Version: &stale},
		{ID: "book-new", Name: "fresh"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	if outcomes[0].Accepted {
		t.Fatalf("stale version must be rejected")
	}
	if outcomes[0].ServerVersion != 1 || outcomes[0].ServerData == "" {
		t.Fatalf("rejection must carry server state: %+v", outcomes[0])
	}
	if !outcomes[1].Accepted || outcomes[1].ServerVersion != 1 {
		t.Fatalf("fresh book should be created at version 1: %+v", outcomes[1])
	}

	var created Book
	if err := db.Where("id = ?", "book-new").Take(&created).Error; err != nil {
		t.Fatalf("created book lookup failed: %v", err)
	}
	if created.OwnerDeviceID != testDeviceID {
		t.Fatalf("new book must adopt the pushing device as owner")
	}
}

func TestSyncEventsNormalizesPersonKeyServerSide(t *testing.T) {
	db := mustOpenServiceDB(t, "sched_sync_personkey")
	service := mustService(t, db)
	mustSeedBook(t, db, testBookID, testDeviceID)

	outcomes, err := service.SyncEvents(context.Background(), testDeviceID, []EventUpsert{
		{ID: testEventID, BookID: testBookID, StartSeconds: 1700001000, PersonName: "  Park  Ji Ho ", RecordNumber: "55"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcomes) != 1 || !outcomes[0].Accepted {
		t.Fatalf("unexpected outcomes: %+v", outcomes)
	}

	var stored Event
	if err := db.Where("id = ?", testEventID).Take(&stored).Error; err != nil {
		t.Fatalf("event lookup failed: %v", err)
	}
	if stored.PersonNameNorm != "park ji ho" {
		t.Fatalf("person key must normalize server-side, got %q", stored.PersonNameNorm)
	}
}

func TestSyncPersonsAppliesBothGroups(t *testing.T) {
	db := mustOpenServiceDB(t, "sched_sync_persons")
	service := mustService(t, db)

	chargeOutcomes, recordOutcomes, err := service.SyncPersons(context.Background(), testDeviceID,
		[]ChargeItemUpsert{{ID: "charge-1", PersonName: "Park Ji Ho", RecordNumber: "55", ItemName: "x-ray", Quantity: 2}},
		[]PersonRecordUpsert{{ID: "record-1", PersonName: "Park Ji Ho", RecordNumber: "55", Memo: "allergy: penicillin"}},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chargeOutcomes) != 1 || !chargeOutcomes[0].Accepted {
		t.Fatalf("unexpected charge outcomes: %+v", chargeOutcomes)
	}
	if len(recordOutcomes) != 1 || !recordOutcomes[0].Accepted {
		t.Fatalf("unexpected record outcomes: %+v", recordOutcomes)
	}

	var audits int64
	if err := db.Model(&ChangeLog{}).Count(&audits).Error; err != nil {
		t.Fatalf("audit count failed: %v", err)
	}
	if audits != 2 {
		t.Fatalf("each accepted item writes one audit row, got %d", audits)
	}
}
