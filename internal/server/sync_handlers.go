package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/slatebook/slatebook/internal/sched"
)

type bookSyncPayload struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	CreatedAtSeconds  int64  `json:"createdAt"`
	ArchivedAtSeconds *int64 `json:"archivedAt,omitempty"`
	Version           *int64 `json:"version,omitempty"`
}

type eventSyncPayload struct {
	ID              string  `json:"id"`
	BookID          string  `json:"bookId"`
	StartSeconds    int64   `json:"start"`
	EndSeconds      *int64  `json:"end,omitempty"`
	PersonName      string  `json:"personName"`
	RecordNumber    string  `json:"recordNumber"`
	EventTypes      string  `json:"eventTypes"`
	IsRemoved       bool    `json:"isRemoved"`
	RemovalReason   *string `json:"removalReason,omitempty"`
	OriginalEventID *string `json:"originalEventId,omitempty"`
	NewEventID      *string `json:"newEventId,omitempty"`
	Version         *int64  `json:"version,omitempty"`
}

type chargeItemSyncPayload struct {
	ID           string `json:"id"`
	PersonName   string `json:"personName"`
	RecordNumber string `json:"recordNumber"`
	ItemName     string `json:"itemName"`
	Quantity     int64  `json:"quantity"`
	IsDeleted    bool   `json:"isDeleted"`
	Version      *int64 `json:"version,omitempty"`
}

type personRecordSyncPayload struct {
	ID           string `json:"id"`
	PersonName   string `json:"personName"`
	RecordNumber string `json:"recordNumber"`
	Memo         string `json:"memo"`
	IsDeleted    bool   `json:"isDeleted"`
	Version      *int64 `json:"version,omitempty"`
}

type syncOutcomePayload struct {
	ID            string `json:"id"`
	Accepted      bool   `json:"accepted"`
	ServerVersion int64  `json:"serverVersion"`
	ServerData    string `json:"serverData,omitempty"`
}

func outcomePayloads(outcomes []sched.SyncOutcome) []syncOutcomePayload {
	payload := make([]syncOutcomePayload, 0, len(outcomes))
	for _, outcome := range outcomes {
		payload = append(payload, syncOutcomePayload{
			ID:            outcome.EntityID,
			Accepted:      outcome.Accepted,
			ServerVersion: outcome.ServerVersion,
			ServerData:    outcome.ServerData,
		})
	}
	return payload
}

func (h *httpHandler) handleBooksSync(c *gin.Context) {
	deviceID := c.GetString(deviceIDContextKey)

	var request struct {
		Books []bookSyncPayload `json:"books"`
	}
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Books) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body"})
		return
	}

	items := make([]sched.BookUpsert, 0, len(request.Books))
	for _, book := range request.Books {
		items = append(items, sched.BookUpsert{
			ID:                book.ID,
			Name:              book.Name,
			CreatedAtSeconds:  book.CreatedAtSeconds,
			ArchivedAtSeconds: book.ArchivedAtSeconds,
			Version:           book.Version,
		})
	}

	outcomes, err := h.sched.SyncBooks(c.Request.Context(), deviceID, items)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "results": outcomePayloads(outcomes)})
}

func (h *httpHandler) handleEventsSync(c *gin.Context) {
	deviceID := c.GetString(deviceIDContextKey)

	var request struct {
		Events []eventSyncPayload `json:"events"`
	}
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Events) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body"})
		return
	}

	items := make([]sched.EventUpsert, 0, len(request.Events))
	for _, event := range request.Events {
		items = append(items, sched.EventUpsert{
			ID:              event.ID,
			BookID:          event.BookID,
			StartSeconds:    event.StartSeconds,
			EndSeconds:      event.EndSeconds,
			PersonName:      event.PersonName,
			RecordNumber:    event.RecordNumber,
			EventTypesJSON:  event.EventTypes,
			IsRemoved:       event.IsRemoved,
			RemovalReason:   event.RemovalReason,
			OriginalEventID: event.OriginalEventID,
			NewEventID:      event.NewEventID,
			Version:         event.Version,
		})
	}

	outcomes, err := h.sched.SyncEvents(c.Request.Context(), deviceID, items)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "results": outcomePayloads(outcomes)})
}

func (h *httpHandler) handlePersonsSync(c *gin.Context) {
	deviceID := c.GetString(deviceIDContextKey)

	var request struct {
		ChargeItems []chargeItemSyncPayload   `json:"chargeItems"`
		PersonInfo  []personRecordSyncPayload `json:"personInfo"`
	}
	if err := c.ShouldBindJSON(&request); err != nil || (len(request.ChargeItems) == 0 && len(request.PersonInfo) == 0) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body"})
		return
	}

	chargeItems := make([]sched.ChargeItemUpsert, 0, len(request.ChargeItems))
	for _, item := range request.ChargeItems {
		chargeItems = append(chargeItems, sched.ChargeItemUpsert{
			ID:           item.ID,
			PersonName:   item.PersonName,
			RecordNumber: item.RecordNumber,
			ItemName:     item.ItemName,
			Quantity:     item.Quantity,
			IsDeleted:    item.IsDeleted,
			Version:      item.Version,
		})
	}
	records := make([]sched.PersonRecordUpsert, 0, len(request.PersonInfo))
	for _, record := range request.PersonInfo {
		records = append(records, sched.PersonRecordUpsert{
			ID:           record.ID,
			PersonName:   record.PersonName,
			RecordNumber: record.RecordNumber,
			Memo:         record.Memo,
			IsDeleted:    record.IsDeleted,
			Version:      record.Version,
		})
	}

	chargeOutcomes, recordOutcomes, err := h.sched.SyncPersons(c.Request.Context(), deviceID, chargeItems, records)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"results": gin.H{
			"chargeItems": outcomePayloads(chargeOutcomes),
			"personInfo":  outcomePayloads(recordOutcomes),
		},
	})
}
