package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/slatebook/slatebook/internal/devices"
	"github.com/slatebook/slatebook/internal/sched"
	"go.uber.org/zap"
)

type registerRequestPayload struct {
	Name string `json:"name"`
}

func (h *httpHandler) handleDeviceRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "device name required"})
		return
	}

	device, token, err := h.devices.Register(c.Request.Context(), request.Name)
	if err != nil {
		if errors.Is(err, devices.ErrInvalidCredentials) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "device name required"})
			return
		}
		h.logger.Error("device registration failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "registration failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"deviceId": device.ID,
		"token":    token,
	})
}

func (h *httpHandler) handleDeviceGet(c *gin.Context) {
	device, err := h.devices.Get(c.Request.Context(), c.Param("deviceId"))
	if err != nil {
		if errors.Is(err, devices.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "not found"})
			return
		}
		h.logger.Error("device lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"deviceId":     device.ID,
		"name":         device.Name,
		"registeredAt": device.RegisteredAtSeconds,
	})
}

type batchNotePayload struct {
	EventID     string `json:"eventId"`
	BookID      string `json:"bookId"`
	StrokesData string `json:"strokesData"`
	Version     *int64 `json:"version,omitempty"`
}

type batchDrawingPayload struct {
	BookID      string `json:"bookId"`
	Date        string `json:"date"`
	ViewMode    int    `json:"viewMode"`
	StrokesData string `json:"strokesData"`
	Version     *int64 `json:"version,omitempty"`
}

type batchSaveRequestPayload struct {
	Notes    []batchNotePayload    `json:"notes"`
	Drawings []batchDrawingPayload `json:"drawings"`
}

type batchNoteResultPayload struct {
	EventID string `json:"eventId"`
	NoteID  string `json:"noteId"`
	Version int64  `json:"version"`
}

type batchDrawingResultPayload struct {
	BookID    string `json:"bookId"`
	Date      string `json:"date"`
	ViewMode  int    `json:"viewMode"`
	DrawingID string `json:"drawingId"`
	Version   int64  `json:"version"`
}

type batchNotesResultPayload struct {
	Succeeded int                      `json:"succeeded"`
	Failed    int                      `json:"failed"`
	Items     []batchNoteResultPayload `json:"items"`
}

type batchDrawingsResultPayload struct {
	Succeeded int                         `json:"succeeded"`
	Failed    int                         `json:"failed"`
	Items     []batchDrawingResultPayload `json:"items"`
}

func (h *httpHandler) handleBatchSave(c *gin.Context) {
	deviceID := c.GetString(deviceIDContextKey)

	var request batchSaveRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body"})
		return
	}

	batch := sched.BatchRequest{
		Notes:    make([]sched.NoteUpsert, 0, len(request.Notes)),
		Drawings: make([]sched.DrawingUpsert, 0, len(request.Drawings)),
	}
	for _, note := range request.Notes {
		batch.Notes = append(batch.Notes, sched.NoteUpsert{
			EventID:     note.EventID,
			BookID:      note.BookID,
			StrokesData: note.StrokesData,
			Version:     note.Version,
		})
	}
	for _, drawing := range request.Drawings {
		batch.Drawings = append(batch.Drawings, sched.DrawingUpsert{
			BookID:      drawing.BookID,
			Date:        drawing.Date,
			ViewMode:    drawing.ViewMode,
			StrokesData: drawing.StrokesData,
			Version:     drawing.Version,
		})
	}

	result, err := h.sched.ApplyBatch(c.Request.Context(), deviceID, batch)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	notes := batchNotesResultPayload{
		Succeeded: len(result.Notes),
		Items:     make([]batchNoteResultPayload, 0, len(result.Notes)),
	}
	for _, applied := range result.Notes {
		notes.Items = append(notes.Items, batchNoteResultPayload{
			EventID: applied.EventID,
			NoteID:  applied.NoteID,
			Version: applied.Version,
		})
	}
	drawings := batchDrawingsResultPayload{
		Succeeded: len(result.Drawings),
		Items:     make([]batchDrawingResultPayload, 0, len(result.Drawings)),
	}
	for _, applied := range result.Drawings {
		drawings.Items = append(drawings.Items, batchDrawingResultPayload{
			BookID:    applied.BookID,
			Date:      applied.Date,
			ViewMode:  int(applied.ViewMode),
			DrawingID: applied.DrawingID,
			Version:   applied.Version,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"results": gin.H{
			"notes":    notes,
			"drawings": drawings,
		},
	})
}

type noteSaveRequestPayload struct {
	StrokesData string `json:"strokesData"`
	Version     *int64 `json:"version,omitempty"`
}

func (h *httpHandler) handleNoteGet(c *gin.Context) {
	deviceID := c.GetString(deviceIDContextKey)
	note, err := h.sched.GetNote(c.Request.Context(), deviceID, c.Param("bookId"), c.Param("eventId"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"strokesData": note.StrokesJSON,
		"version":     note.Version,
	})
}

func (h *httpHandler) handleNoteSave(c *gin.Context) {
	deviceID := c.GetString(deviceIDContextKey)

	var request noteSaveRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body"})
		return
	}

	result, err := h.sched.SaveNote(c.Request.Context(), deviceID, sched.NoteUpsert{
		EventID:     c.Param("eventId"),
		BookID:      c.Param("bookId"),
		StrokesData: request.StrokesData,
		Version:     request.Version,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "version": result.Version})
}

func (h *httpHandler) handleNoteDelete(c *gin.Context) {
	deviceID := c.GetString(deviceIDContextKey)
	if err := h.sched.DeleteNote(c.Request.Context(), deviceID, c.Param("bookId"), c.Param("eventId")); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type notesBatchFetchRequestPayload struct {
	EventIDs []string `json:"eventIds"`
}

type notePayload struct {
	EventID     string `json:"eventId"`
	BookID      string `json:"bookId"`
	StrokesData string `json:"strokesData"`
	Version     int64  `json:"version"`
}

func (h *httpHandler) handleNotesBatchFetch(c *gin.Context) {
	deviceID := c.GetString(deviceIDContextKey)

	var request notesBatchFetchRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body"})
		return
	}

	notes, err := h.sched.BatchNotes(c.Request.Context(), deviceID, request.EventIDs)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	payload := make([]notePayload, 0, len(notes))
	for _, note := range notes {
		payload = append(payload, notePayload{
			EventID:     note.EventID,
			BookID:      note.BookID,
			StrokesData: note.StrokesJSON,
			Version:     note.Version,
		})
	}
	c.JSON(http.StatusOK, gin.H{"count": len(payload), "notes": payload})
}

func drawingSlotParams(c *gin.Context) (string, int, bool) {
	date := c.Query("date")
	viewModeRaw := c.Query("viewMode")
	if date == "" || viewModeRaw == "" {
		return "", 0, false
	}
	viewMode, err := strconv.Atoi(viewModeRaw)
	if err != nil {
		return "", 0, false
	}
	return date, viewMode, true
}

func (h *httpHandler) handleDrawingGet(c *gin.Context) {
	deviceID := c.GetString(deviceIDContextKey)
	date, viewMode, ok := drawingSlotParams(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "date and viewMode query parameters required"})
		return
	}

	drawing, err := h.sched.GetDrawing(c.Request.Context(), deviceID, c.Param("bookId"), date, viewMode)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"strokesData": drawing.StrokesJSON,
		"version":     drawing.Version,
	})
}

type drawingSaveRequestPayload struct {
	Date        string `json:"date"`
	ViewMode    int    `json:"viewMode"`
	StrokesData string `json:"strokesData"`
	Version     *int64 `json:"version,omitempty"`
}

func (h *httpHandler) handleDrawingSave(c *gin.Context) {
	deviceID := c.GetString(deviceIDContextKey)

	var request drawingSaveRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Date == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body"})
		return
	}

	result, err := h.sched.SaveDrawing(c.Request.Context(), deviceID, sched.DrawingUpsert{
		BookID:      c.Param("bookId"),
		Date:        request.Date,
		ViewMode:    request.ViewMode,
		StrokesData: request.StrokesData,
		Version:     request.Version,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "version": result.Version})
}

func (h *httpHandler) handleDrawingDelete(c *gin.Context) {
	deviceID := c.GetString(deviceIDContextKey)
	date, viewMode, ok := drawingSlotParams(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "date and viewMode query parameters required"})
		return
	}

	if err := h.sched.DeleteDrawing(c.Request.Context(), deviceID, c.Param("bookId"), date, viewMode); err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
