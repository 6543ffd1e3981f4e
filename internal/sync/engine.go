package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/slatebook/slatebook/internal/cache"
	"github.com/slatebook/slatebook/internal/model"
	"github.com/slatebook/slatebook/internal/store"
	"go.uber.org/zap"
)

const defaultBatchLimit = 1000

// Resolution is the caller's decision for one surfaced conflict.
type Resolution int

const (
	// KeepLocal re-submits the local payload against the server's current
	// version; the next push wins unless the server moved again.
	KeepLocal Resolution = iota
	// TakeServer discards the local edit and adopts the server payload.
	TakeServer
)

// Conflict is one version disagreement surfaced by a push. The engine
// never resolves conflicts on its own; callers pick a Resolution and hand
// it back through ResolveConflict.
type Conflict struct {
	EntityType    string
	EntityID      string
	ServerVersion int64
	ServerData    string
}

// PushReport summarizes one push cycle.
type PushReport struct {
	Succeeded int
	Failed    int
	Conflicts []Conflict
}

// EngineConfig wires the sync engine.
type EngineConfig struct {
	Store      *store.Store
	Client     *Client
	Sweeper    *cache.Sweeper
	Logger     *zap.Logger
	Clock      func() time.Time
	BatchLimit int
}

// Engine drives the replica's upload and refresh flows. Push walks the
// dirty set in dependency order: books before the events that reference
// them, events before the notes hanging off them.
type Engine struct {
	store      *store.Store
	client     *Client
	sweeper    *cache.Sweeper
	logger     *zap.Logger
	clock      func() time.Time
	batchLimit int
}

// NewEngine validates the configuration and returns an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("sync: store is required")
	}
	if cfg.Client == nil {
		return nil, errors.New("sync: client is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	limit := cfg.BatchLimit
	if limit <= 0 {
		limit = defaultBatchLimit
	}
	return &Engine{
		store:      cfg.Store,
		client:     cfg.Client,
		sweeper:    cfg.Sweeper,
		logger:     logger,
		clock:      clock,
		batchLimit: limit,
	}, nil
}

// Push uploads every dirty row. A transport failure aborts the cycle with
// ErrUnreachable and the partial report; everything still dirty is picked
// up by the next cycle. Conflicts are recorded, not resolved.
func (e *Engine) Push(ctx context.Context) (PushReport, error) {
	var report PushReport
	if err := e.pushBooks(ctx, &report); err != nil {
		return report, err
	}
	if err := e.pushEvents(ctx, &report); err != nil {
		return report, err
	}
	if err := e.pushNotesAndDrawings(ctx, &report); err != nil {
		return report, err
	}
	if err := e.pushPersons(ctx, &report); err != nil {
		return report, err
	}
	e.logger.Info("push cycle finished",
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("conflicts", len(report.Conflicts)))
	return report, nil
}

// HasDirty reports whether any replica table holds rows awaiting upload.
func (e *Engine) HasDirty(ctx context.Context) (bool, error) {
	counters := []func(context.Context) (int64, error){
		e.store.Books.CountDirty,
		e.store.Events.CountDirty,
		e.store.Notes.CountDirty,
		e.store.Drawings.CountDirty,
		e.store.ChargeItems.CountDirty,
		e.store.PersonInfo.CountDirty,
	}
	for _, count := range counters {
		n, err := count(ctx)
		if err != nil {
			return false, err
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

// wireVersion maps replica bookkeeping onto the optimistic-lock contract:
// a never-synced row sends no version and creates server-side, a synced
// row sends its last confirmed version for an exact match.
func wireVersion(meta model.SyncMeta) *int64 {
	if meta.SyncedAtSeconds == nil {
		return nil
	}
	version := meta.Version
	return &version
}

func (e *Engine) pushBooks(ctx context.Context, report *PushReport) error {
	dirty, err := e.store.Books.ListDirty(ctx)
	if err != nil {
		return err
	}
	if len(dirty) == 0 {
		return nil
	}

	byID := make(map[string]model.Book, len(dirty))
	items := make([]bookSyncWire, 0, len(dirty))
	for _, book := range dirty {
		byID[book.ID] = book
		items = append(items, bookSyncWire{
			ID:                book.ID,
			Name:              book.Name,
			CreatedAtSeconds:  book.CreatedAtSeconds,
			ArchivedAtSeconds: book.ArchivedAtSeconds,
			Version:           wireVersion(book.SyncMeta),
		})
	}

	outcomes, err := e.client.SyncBooks(ctx, items)
	if err != nil {
		return err
	}
	now := e.clock()
	for _, outcome := range outcomes {
		local, known := byID[outcome.ID]
		if !known {
			continue
		}
		if !outcome.Accepted {
			report.Failed++
			report.Conflicts = append(report.Conflicts, Conflict{
				EntityType:    "book",
				EntityID:      outcome.ID,
				ServerVersion: outcome.ServerVersion,
				ServerData:    outcome.ServerData,
			})
			continue
		}
		if err := e.store.Books.ClearDirty(ctx, outcome.ID, outcome.ServerVersion, local.ChangeSeq, now); err != nil {
			return err
		}
		report.Succeeded++
	}
	return nil
}

func (e *Engine) pushEvents(ctx context.Context, report *PushReport) error {
	dirty, err := e.store.Events.ListDirty(ctx)
	if err != nil {
		return err
	}
	if len(dirty) == 0 {
		return nil
	}

	byID := make(map[string]model.Event, len(dirty))
	items := make([]eventSyncWire, 0, len(dirty))
	for _, event := range dirty {
		byID[event.ID] = event
		items = append(items, eventSyncWire{
			ID:              event.ID,
			BookID:          event.BookID,
			StartSeconds:    event.StartSeconds,
			EndSeconds:      event.EndSeconds,
			PersonName:      event.PersonName,
			RecordNumber:    event.RecordNumber,
			EventTypes:      event.EventTypesJSON,
			IsRemoved:       event.IsRemoved,
			RemovalReason:   event.RemovalReason,
			OriginalEventID: event.OriginalEventID,
			NewEventID:      event.NewEventID,
			Version:         wireVersion(event.SyncMeta),
		})
	}

	outcomes, err := e.client.SyncEvents(ctx, items)
	if err != nil {
		return err
	}
	now := e.clock()
	for _, outcome := range outcomes {
		local, known := byID[outcome.ID]
		if !known {
			continue
		}
		if !outcome.Accepted {
			report.Failed++
			report.Conflicts = append(report.Conflicts, Conflict{
				EntityType:    "event",
				EntityID:      outcome.ID,
				ServerVersion: outcome.ServerVersion,
				ServerData:    outcome.ServerData,
			})
			continue
		}
		if err := e.store.Events.ClearDirty(ctx, outcome.ID, outcome.ServerVersion, local.ChangeSeq, now); err != nil {
			return err
		}
		report.Succeeded++
	}
	return nil
}

// drawingSlotKey matches the server's conflict identity for drawings.
func drawingSlotKey(bookID, date string, viewMode model.ViewMode) string {
	return fmt.Sprintf("%s/%s/%d", bookID, date, viewMode)
}

func (e *Engine) pushNotesAndDrawings(ctx context.Context, report *PushReport) error {
	dirtyNotes, err := e.store.Notes.ListDirty(ctx)
	if err != nil {
		return err
	}
	dirtyDrawings, err := e.store.Drawings.ListDirty(ctx)
	if err != nil {
		return err
	}

	// Deletions go through the single-item endpoints; the batch carries
	// upserts only. Person-keyed notes have no server counterpart and
	// stay local.
	var noteRows []model.Note
	for _, note := range dirtyNotes {
		if note.EventID == nil {
			continue
		}
		if note.IsDeleted {
			if err := e.pushNoteDeletion(ctx, report, note); err != nil {
				return err
			}
			continue
		}
		noteRows = append(noteRows, note)
	}
	var drawingRows []model.ScheduleDrawing
	for _, drawing := range dirtyDrawings {
		if drawing.IsDeleted {
			if err := e.pushDrawingDeletion(ctx, report, drawing); err != nil {
				return err
			}
			continue
		}
		drawingRows = append(drawingRows, drawing)
	}

	for len(noteRows) > 0 || len(drawingRows) > 0 {
		chunkNotes := noteRows
		if len(chunkNotes) > e.batchLimit {
			chunkNotes = chunkNotes[:e.batchLimit]
		}
		room := e.batchLimit - len(chunkNotes)
		chunkDrawings := drawingRows
		if len(chunkDrawings) > room {
			chunkDrawings = chunkDrawings[:room]
		}
		noteRows = noteRows[len(chunkNotes):]
		drawingRows = drawingRows[len(chunkDrawings):]

		if err := e.pushBatchChunk(ctx, report, chunkNotes, chunkDrawings); err != nil {
			return err
		}
	}
	return nil
}

// pushBatchChunk submits one chunk atomically. A conflict voids the whole
// chunk server-side, so the conflicting item is recorded, excluded, and
// the remainder resubmitted. Every iteration removes at least one item,
// which bounds the loop.
func (e *Engine) pushBatchChunk(ctx context.Context, report *PushReport, notes []model.Note, drawings []model.ScheduleDrawing) error {
	for len(notes) > 0 || len(drawings) > 0 {
		noteWires := make([]batchNoteWire, 0, len(notes))
		notesByEvent := make(map[string]model.Note, len(notes))
		for _, note := range notes {
			eventID := *note.EventID
			notesByEvent[eventID] = note
			noteWires = append(noteWires, batchNoteWire{
				EventID:     eventID,
				BookID:      note.BookID,
				StrokesData: note.PagesJSON,
				Version:     wireVersion(note.SyncMeta),
			})
		}
		drawingWires := make([]batchDrawingWire, 0, len(drawings))
		drawingsBySlot := make(map[string]model.ScheduleDrawing, len(drawings))
		for _, drawing := range drawings {
			drawingsBySlot[drawingSlotKey(drawing.BookID, drawing.Date, drawing.ViewMode)] = drawing
			drawingWires = append(drawingWires, batchDrawingWire{
				BookID:      drawing.BookID,
				Date:        drawing.Date,
				ViewMode:    int(drawing.ViewMode),
				StrokesData: drawing.StrokesJSON,
				Version:     wireVersion(drawing.SyncMeta),
			})
		}

		results, err := e.client.BatchSave(ctx, noteWires, drawingWires)
		if err == nil {
			now := e.clock()
			for _, item := range results.Notes.Items {
				local, known := notesByEvent[item.EventID]
				if !known {
					continue
				}
				if err := e.store.Notes.ClearDirty(ctx, local.ID, item.Version, local.ChangeSeq, now); err != nil {
					return err
				}
				report.Succeeded++
			}
			for _, item := range results.Drawings.Items {
				local, known := drawingsBySlot[drawingSlotKey(item.BookID, item.Date, model.ViewMode(item.ViewMode))]
				if !known {
					continue
				}
				if err := e.store.Drawings.ClearDirty(ctx, local.ID, item.Version, local.ChangeSeq, now); err != nil {
					return err
				}
				report.Succeeded++
			}
			return nil
		}

		var conflict *RemoteConflict
		if !errors.As(err, &conflict) {
			return err
		}
		report.Failed++
		report.Conflicts = append(report.Conflicts, Conflict{
			EntityType:    conflict.EntityType,
			EntityID:      conflict.EntityID,
			ServerVersion: conflict.ServerVersion,
			ServerData:    conflict.ServerData,
		})
		before := len(notes) + len(drawings)
		notes, drawings = excludeConflicting(notes, drawings, conflict)
		if len(notes)+len(drawings) == before {
			return fmt.Errorf("sync: conflicting item %s %s not in batch", conflict.EntityType, conflict.EntityID)
		}
		e.logger.Warn("batch conflict, resubmitting remainder",
			zap.String("entity_type", conflict.EntityType),
			zap.String("entity_id", conflict.EntityID),
			zap.Int("remaining", len(notes)+len(drawings)))
	}
	return nil
}

func excludeConflicting(notes []model.Note, drawings []model.ScheduleDrawing, conflict *RemoteConflict) ([]model.Note, []model.ScheduleDrawing) {
	switch conflict.EntityType {
	case "note":
		kept := notes[:0]
		for _, note := range notes {
			if *note.EventID != conflict.EntityID {
				kept = append(kept, note)
			}
		}
		return kept, drawings
	case "drawing":
		kept := drawings[:0]
		for _, drawing := range drawings {
			if drawingSlotKey(drawing.BookID, drawing.Date, drawing.ViewMode) != conflict.EntityID {
				kept = append(kept, drawing)
			}
		}
		return notes, kept
	}
	return notes, drawings
}

func (e *Engine) pushNoteDeletion(ctx context.Context, report *PushReport, note model.Note) error {
	err := e.client.DeleteNote(ctx, note.BookID, *note.EventID)
	if err != nil && !errors.Is(err, ErrRemoteNotFound) {
		if errors.Is(err, ErrUnreachable) {
			return err
		}
		report.Failed++
		e.logger.Warn("note deletion rejected", zap.String("note_id", note.ID), zap.Error(err))
		return nil
	}
	// Deleted on both sides; the version is no longer load-bearing.
	if err := e.store.Notes.ClearDirty(ctx, note.ID, note.Version, note.ChangeSeq, e.clock()); err != nil {
		return err
	}
	report.Succeeded++
	return nil
}

func (e *Engine) pushDrawingDeletion(ctx context.Context, report *PushReport, drawing model.ScheduleDrawing) error {
	err := e.client.DeleteDrawing(ctx, drawing.BookID, drawing.Date, int(drawing.ViewMode))
	if err != nil && !errors.Is(err, ErrRemoteNotFound) {
		if errors.Is(err, ErrUnreachable) {
			return err
		}
		report.Failed++
		e.logger.Warn("drawing deletion rejected", zap.String("drawing_id", drawing.ID), zap.Error(err))
		return nil
	}
	if err := e.store.Drawings.ClearDirty(ctx, drawing.ID, drawing.Version, drawing.ChangeSeq, e.clock()); err != nil {
		return err
	}
	report.Succeeded++
	return nil
}

func (e *Engine) pushPersons(ctx context.Context, report *PushReport) error {
	dirtyItems, err := e.store.ChargeItems.ListDirty(ctx)
	if err != nil {
		return err
	}
	dirtyRecords, err := e.store.PersonInfo.ListDirty(ctx)
	if err != nil {
		return err
	}
	if len(dirtyItems) == 0 && len(dirtyRecords) == 0 {
		return nil
	}

	itemsByID := make(map[string]model.PersonChargeItem, len(dirtyItems))
	itemWires := make([]chargeItemSyncWire, 0, len(dirtyItems))
	for _, item := range dirtyItems {
		itemsByID[item.ID] = item
		itemWires = append(itemWires, chargeItemSyncWire{
			ID:           item.ID,
			PersonName:   item.PersonNameNorm,
			RecordNumber: item.RecordNumberNorm,
			ItemName:     item.ItemName,
			Quantity:     item.Quantity,
			IsDeleted:    item.IsDeleted,
			Version:      wireVersion(item.SyncMeta),
		})
	}
	recordsByID := make(map[string]model.PersonInfo, len(dirtyRecords))
	recordWires := make([]personRecordSyncWire, 0, len(dirtyRecords))
	for _, record := range dirtyRecords {
		recordsByID[record.ID] = record
		recordWires = append(recordWires, personRecordSyncWire{
			ID:           record.ID,
			PersonName:   record.PersonName,
			RecordNumber: record.RecordNumber,
			Memo:         record.Memo,
			IsDeleted:    record.IsDeleted,
			Version:      wireVersion(record.SyncMeta),
		})
	}

	results, err := e.client.SyncPersons(ctx, itemWires, recordWires)
	if err != nil {
		return err
	}
	now := e.clock()
	for _, outcome := range results.ChargeItems {
		local, known := itemsByID[outcome.ID]
		if !known {
			continue
		}
		if !outcome.Accepted {
			report.Failed++
			report.Conflicts = append(report.Conflicts, Conflict{
				EntityType:    "chargeItem",
				EntityID:      outcome.ID,
				ServerVersion: outcome.ServerVersion,
				ServerData:    outcome.ServerData,
			})
			continue
		}
		if err := e.store.ChargeItems.ClearDirty(ctx, outcome.ID, outcome.ServerVersion, local.ChangeSeq, now); err != nil {
			return err
		}
		report.Succeeded++
	}
	for _, outcome := range results.PersonInfo {
		local, known := recordsByID[outcome.ID]
		if !known {
			continue
		}
		if !outcome.Accepted {
			report.Failed++
			report.Conflicts = append(report.Conflicts, Conflict{
				EntityType:    "personInfo",
				EntityID:      outcome.ID,
				ServerVersion: outcome.ServerVersion,
				ServerData:    outcome.ServerData,
			})
			continue
		}
		if err := e.store.PersonInfo.ClearDirty(ctx, outcome.ID, outcome.ServerVersion, local.ChangeSeq, now); err != nil {
			return err
		}
		report.Succeeded++
	}
	return nil
}

// RefreshNote fetches the authoritative note for an event, server first.
// A dirty local edit is never silently overwritten: the local payload is
// returned untouched and the disagreement surfaces on the next push. When
// the server is unreachable the cached payload, if present, serves the
// read and takes a cache hit.
func (e *Engine) RefreshNote(ctx context.Context, bookID, eventID string) (*model.Note, error) {
	local, err := e.store.Notes.ByEventIncludingDeleted(ctx, eventID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	strokes, version, fetchErr := e.client.FetchNote(ctx, bookID, eventID)
	switch {
	case fetchErr == nil:
		if local != nil && local.IsDirty {
			if local.IsDeleted {
				// The local deletion is still awaiting upload; adopting
				// the server copy here would undo it.
				return nil, nil
			}
			return local, nil
		}
		if local == nil {
			id, err := e.newID()
			if err != nil {
				return nil, err
			}
			local = &model.Note{ID: id, BookID: bookID, EventID: &eventID}
		}
		// A settled tombstone is revived in place; the event keeps a
		// single note row either way.
		local.IsDeleted = false
		local.PagesJSON = strokes
		local.Version = version
		local.PayloadBytes = int64(len(strokes))
		cachedAt := e.clock().UTC().Unix()
		local.CachedAtSeconds = &cachedAt
		if err := e.store.Notes.SaveClean(ctx, local, e.clock()); err != nil {
			return nil, err
		}
		e.touch(ctx, "notes", local.ID)
		return local, nil
	case errors.Is(fetchErr, ErrRemoteNotFound):
		return nil, nil
	case errors.Is(fetchErr, ErrUnreachable):
		if local != nil && local.IsDeleted {
			return nil, nil
		}
		if local != nil && local.Cached() {
			e.touch(ctx, "notes", local.ID)
			return local, nil
		}
		return nil, fetchErr
	default:
		return nil, fetchErr
	}
}

// RefreshDrawing is RefreshNote for one calendar slot.
func (e *Engine) RefreshDrawing(ctx context.Context, bookID, date string, viewMode model.ViewMode) (*model.ScheduleDrawing, error) {
	local, err := e.store.Drawings.BySlotIncludingDeleted(ctx, bookID, date, viewMode)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	strokes, version, fetchErr := e.client.FetchDrawing(ctx, bookID, date, int(viewMode))
	switch {
	case fetchErr == nil:
		if local != nil && local.IsDirty {
			if local.IsDeleted {
				return nil, nil
			}
			return local, nil
		}
		created := local == nil
		if created {
			id, err := e.newID()
			if err != nil {
				return nil, err
			}
			local = &model.ScheduleDrawing{ID: id, BookID: bookID, Date: date, ViewMode: viewMode}
		}
		local.IsDeleted = false
		local.StrokesJSON = strokes
		local.Version = version
		local.PayloadBytes = int64(len(strokes))
		cachedAt := e.clock().UTC().Unix()
		local.CachedAtSeconds = &cachedAt
		if created {
			// A concurrent writer may occupy the slot first; the upsert
			// reuses that identity so the unique constraint holds.
			if err := e.store.Drawings.UpsertSlot(ctx, local); err != nil {
				return nil, err
			}
			if err := e.store.Drawings.ClearDirty(ctx, local.ID, version, local.ChangeSeq, e.clock()); err != nil {
				return nil, err
			}
			local.Version = version
			local.IsDirty = false
		} else if err := e.store.Drawings.SaveClean(ctx, local, e.clock()); err != nil {
			return nil, err
		}
		e.touch(ctx, "schedule_drawings", local.ID)
		return local, nil
	case errors.Is(fetchErr, ErrRemoteNotFound):
		return nil, nil
	case errors.Is(fetchErr, ErrUnreachable):
		if local != nil && local.IsDeleted {
			return nil, nil
		}
		if local != nil && local.Cached() {
			e.touch(ctx, "schedule_drawings", local.ID)
			return local, nil
		}
		return nil, fetchErr
	default:
		return nil, fetchErr
	}
}

// ResolveConflict applies the caller's decision for one surfaced conflict.
// KeepLocal adopts the server's version number while keeping the local
// payload dirty, so the next push matches exactly and wins. TakeServer
// overwrites the local row with the server payload and clears the flag.
func (e *Engine) ResolveConflict(ctx context.Context, conflict Conflict, resolution Resolution) error {
	switch conflict.EntityType {
	case "book":
		return resolveRepositoryConflict(ctx, e, e.store.Books, conflict, resolution, applyBookServerData)
	case "event":
		return resolveRepositoryConflict(ctx, e, e.store.Events.Repository, conflict, resolution, applyEventServerData)
	case "chargeItem":
		return resolveRepositoryConflict(ctx, e, e.store.ChargeItems, conflict, resolution, applyChargeItemServerData)
	case "personInfo":
		return resolveRepositoryConflict(ctx, e, e.store.PersonInfo, conflict, resolution, applyPersonInfoServerData)
	case "note":
		return e.resolveNoteConflict(ctx, conflict, resolution)
	case "drawing":
		return e.resolveDrawingConflict(ctx, conflict, resolution)
	}
	return fmt.Errorf("sync: unknown conflict entity type %q", conflict.EntityType)
}

func resolveRepositoryConflict[T any, PT interface {
	*T
	store.Syncable
}](ctx context.Context, e *Engine, repo *store.Repository[T, PT], conflict Conflict, resolution Resolution, apply func(PT, string) error) error {
	row, err := repo.Get(ctx, conflict.EntityID)
	if err != nil {
		return err
	}
	if resolution == KeepLocal {
		row.Meta().Version = conflict.ServerVersion
		return repo.Save(ctx, row)
	}
	if err := apply(row, conflict.ServerData); err != nil {
		return err
	}
	row.Meta().Version = conflict.ServerVersion
	return repo.SaveClean(ctx, row, e.clock())
}

func applyBookServerData(book *model.Book, data string) error {
	var wire bookSyncWire
	if err := json.Unmarshal([]byte(data), &wire); err != nil {
		return err
	}
	book.Name = wire.Name
	book.CreatedAtSeconds = wire.CreatedAtSeconds
	book.ArchivedAtSeconds = wire.ArchivedAtSeconds
	return nil
}

func applyEventServerData(event *model.Event, data string) error {
	var wire eventSyncWire
	if err := json.Unmarshal([]byte(data), &wire); err != nil {
		return err
	}
	event.BookID = wire.BookID
	event.StartSeconds = wire.StartSeconds
	event.EndSeconds = wire.EndSeconds
	event.PersonName = wire.PersonName
	event.RecordNumber = wire.RecordNumber
	event.EventTypesJSON = wire.EventTypes
	event.IsRemoved = wire.IsRemoved
	event.RemovalReason = wire.RemovalReason
	event.OriginalEventID = wire.OriginalEventID
	event.NewEventID = wire.NewEventID
	event.ApplyPersonKey()
	return nil
}

func applyChargeItemServerData(item *model.PersonChargeItem, data string) error {
	var wire chargeItemSyncWire
	if err := json.Unmarshal([]byte(data), &wire); err != nil {
		return err
	}
	item.ItemName = wire.ItemName
	item.Quantity = wire.Quantity
	item.IsDeleted = wire.IsDeleted
	return nil
}

func applyPersonInfoServerData(record *model.PersonInfo, data string) error {
	var wire personRecordSyncWire
	if err := json.Unmarshal([]byte(data), &wire); err != nil {
		return err
	}
	record.PersonName = wire.PersonName
	record.RecordNumber = wire.RecordNumber
	record.Memo = wire.Memo
	record.IsDeleted = wire.IsDeleted
	key := model.NormalizePersonKey(wire.PersonName, wire.RecordNumber)
	record.PersonNameNorm = key.Name
	record.RecordNumberNorm = key.RecordNumber
	return nil
}

// Note conflicts are keyed by event id, the way the batch addresses them.
func (e *Engine) resolveNoteConflict(ctx context.Context, conflict Conflict, resolution Resolution) error {
	note, err := e.store.Notes.ByEvent(ctx, conflict.EntityID)
	if err != nil {
		return err
	}
	if resolution == KeepLocal {
		note.Version = conflict.ServerVersion
		return e.store.Notes.Save(ctx, note)
	}
	note.PagesJSON = conflict.ServerData
	note.Version = conflict.ServerVersion
	note.PayloadBytes = int64(len(conflict.ServerData))
	cachedAt := e.clock().UTC().Unix()
	note.CachedAtSeconds = &cachedAt
	return e.store.Notes.SaveClean(ctx, note, e.clock())
}

// Drawing conflicts are keyed by bookID/date/viewMode slot.
func (e *Engine) resolveDrawingConflict(ctx context.Context, conflict Conflict, resolution Resolution) error {
	parts := strings.SplitN(conflict.EntityID, "/", 3)
	if len(parts) != 3 {
		return fmt.Errorf("sync: malformed drawing conflict id %q", conflict.EntityID)
	}
	rawMode, err := strconv.Atoi(parts[2])
	if err != nil {
		return fmt.Errorf("sync: malformed drawing conflict id %q", conflict.EntityID)
	}
	viewMode, err := model.NewViewMode(rawMode)
	if err != nil {
		return err
	}
	drawing, err := e.store.Drawings.BySlot(ctx, parts[0], parts[1], viewMode)
	if err != nil {
		return err
	}
	if resolution == KeepLocal {
		drawing.Version = conflict.ServerVersion
		return e.store.Drawings.Save(ctx, drawing)
	}
	drawing.StrokesJSON = conflict.ServerData
	drawing.Version = conflict.ServerVersion
	drawing.PayloadBytes = int64(len(conflict.ServerData))
	cachedAt := e.clock().UTC().Unix()
	drawing.CachedAtSeconds = &cachedAt
	return e.store.Drawings.SaveClean(ctx, drawing, e.clock())
}

func (e *Engine) newID() (string, error) {
	return store.NewUUIDProvider().NewID()
}

func (e *Engine) touch(ctx context.Context, table, id string) {
	if e.sweeper == nil {
		return
	}
	if err := e.sweeper.Touch(ctx, table, id); err != nil {
		e.logger.Warn("cache touch failed", zap.String("table", table), zap.Error(err))
	}
}
