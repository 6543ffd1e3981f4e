package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	headerDeviceID    = "X-Device-ID"
	headerDeviceToken = "X-Device-Token"

	defaultRequestTimeout = 10 * time.Second
)

var (
	// ErrUnreachable indicates a timeout or connection failure. It is a
	// transient condition, never a conflict: callers keep dirty state and
	// retry on reconnect.
	ErrUnreachable = errors.New("sync: server unreachable")
	// ErrRemoteNotFound indicates the server reports the entity absent.
	ErrRemoteNotFound = errors.New("sync: not found on server")
	// ErrRemoteRejected indicates a non-conflict server-side rejection
	// (validation or authorization); retrying without changes is pointless.
	ErrRemoteRejected = errors.New("sync: request rejected by server")
)

// RemoteConflict is a 409 from a single-item endpoint or batch save. It
// carries the authoritative version and payload from the response body.
type RemoteConflict struct {
	Message       string
	EntityType    string
	EntityID      string
	ServerVersion int64
	ServerData    string
}

func (e *RemoteConflict) Error() string {
	return fmt.Sprintf("sync: version conflict on %s %s, server version %d", e.EntityType, e.EntityID, e.ServerVersion)
}

// ClientConfig configures the API client for one device.
type ClientConfig struct {
	BaseURL     string
	DeviceID    string
	DeviceToken string
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Client is the typed wrapper around the server's REST surface. Every
// call carries the device credential headers and a bounded timeout.
type Client struct {
	baseURL     string
	deviceID    string
	deviceToken string
	timeout     time.Duration
	httpClient  *http.Client
}

// NewClient validates the configuration and returns a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("sync: base URL is required")
	}
	if cfg.DeviceID == "" || cfg.DeviceToken == "" {
		return nil, errors.New("sync: device credentials are required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:     base,
		deviceID:    cfg.DeviceID,
		deviceToken: cfg.DeviceToken,
		timeout:     timeout,
		httpClient:  httpClient,
	}, nil
}

// Health probes server liveness and database reachability.
func (c *Client) Health(ctx context.Context) error {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, &body, false); err != nil {
		return err
	}
	if body.Status != "ok" {
		return fmt.Errorf("%w: health status %q", ErrUnreachable, body.Status)
	}
	return nil
}

type syncOutcomeWire struct {
	ID            string `json:"id"`
	Accepted      bool   `json:"accepted"`
	ServerVersion int64  `json:"serverVersion"`
	ServerData    string `json:"serverData,omitempty"`
}

type bookSyncWire struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	CreatedAtSeconds  int64  `json:"createdAt"`
	ArchivedAtSeconds *int64 `json:"archivedAt,omitempty"`
	Version           *int64 `json:"version,omitempty"`
}

// SyncBooks pushes book rows and returns one outcome per item.
func (c *Client) SyncBooks(ctx context.Context, books []bookSyncWire) ([]syncOutcomeWire, error) {
	var response struct {
		Results []syncOutcomeWire `json:"results"`
	}
	err := c.do(ctx, http.MethodPost, "/api/books/sync", map[string]any{"books": books}, &response, true)
	if err != nil {
		return nil, err
	}
	return response.Results, nil
}

type eventSyncWire struct {
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

// SyncEvents pushes event rows and returns one outcome per item.
func (c *Client) SyncEvents(ctx context.Context, events []eventSyncWire) ([]syncOutcomeWire, error) {
	var response struct {
		Results []syncOutcomeWire `json:"results"`
	}
	err := c.do(ctx, http.MethodPost, "/api/events/sync", map[string]any{"events": events}, &response, true)
	if err != nil {
		return nil, err
	}
	return response.Results, nil
}

type chargeItemSyncWire struct {
	ID           string `json:"id"`
	PersonName   string `json:"personName"`
	RecordNumber string `json:"recordNumber"`
	ItemName     string `json:"itemName"`
	Quantity     int64  `json:"quantity"`
	IsDeleted    bool   `json:"isDeleted"`
	Version      *int64 `json:"version,omitempty"`
}

type personRecordSyncWire struct {
	ID           string `json:"id"`
	PersonName   string `json:"personName"`
	RecordNumber string `json:"recordNumber"`
	Memo         string `json:"memo"`
	IsDeleted    bool   `json:"isDeleted"`
	Version      *int64 `json:"version,omitempty"`
}

type personsSyncResultsWire struct {
	ChargeItems []syncOutcomeWire `json:"chargeItems"`
	PersonInfo  []syncOutcomeWire `json:"personInfo"`
}

// SyncPersons pushes charge item and person info rows.
func (c *Client) SyncPersons(ctx context.Context, chargeItems []chargeItemSyncWire, records []personRecordSyncWire) (personsSyncResultsWire, error) {
	var response struct {
		Results personsSyncResultsWire `json:"results"`
	}
	body := map[string]any{"chargeItems": chargeItems, "personInfo": records}
	err := c.do(ctx, http.MethodPost, "/api/persons/sync", body, &response, true)
	if err != nil {
		return personsSyncResultsWire{}, err
	}
	return response.Results, nil
}

type batchNoteWire struct {
	EventID     string `json:"eventId"`
	BookID      string `json:"bookId"`
	StrokesData string `json:"strokesData"`
	Version     *int64 `json:"version,omitempty"`
}

type batchDrawingWire struct {
	BookID      string `json:"bookId"`
	Date        string `json:"date"`
	ViewMode    int    `json:"viewMode"`
	StrokesData string `json:"strokesData"`
	Version     *int64 `json:"version,omitempty"`
}

type batchNoteResultWire struct {
	EventID string `json:"eventId"`
	NoteID  string `json:"noteId"`
	Version int64  `json:"version"`
}

type batchDrawingResultWire struct {
	BookID    string `json:"bookId"`
	Date      string `json:"date"`
	ViewMode  int    `json:"viewMode"`
	DrawingID string `json:"drawingId"`
	Version   int64  `json:"version"`
}

type batchSaveResultsWire struct {
	Notes struct {
		Succeeded int                   `json:"succeeded"`
		Items     []batchNoteResultWire `json:"items"`
	} `json:"notes"`
	Drawings struct {
		Succeeded int                      `json:"succeeded"`
		Items     []batchDrawingResultWire `json:"items"`
	} `json:"drawings"`
}

// BatchSave submits one atomic batch of note and drawing upserts. A 409
// returns a *RemoteConflict and means zero items were persisted; on
// success the result carries the server version adopted for every item.
func (c *Client) BatchSave(ctx context.Context, notes []batchNoteWire, drawings []batchDrawingWire) (batchSaveResultsWire, error) {
	var response struct {
		Results batchSaveResultsWire `json:"results"`
	}
	body := map[string]any{"notes": notes, "drawings": drawings}
	if err := c.do(ctx, http.MethodPost, "/api/batch/save", body, &response, true); err != nil {
		return batchSaveResultsWire{}, err
	}
	return response.Results, nil
}

// FetchNote fetches the authoritative note for one event.
func (c *Client) FetchNote(ctx context.Context, bookID, eventID string) (string, int64, error) {
	var response struct {
		StrokesData string `json:"strokesData"`
		Version     int64  `json:"version"`
	}
	path := fmt.Sprintf("/api/books/%s/events/%s/note", url.PathEscape(bookID), url.PathEscape(eventID))
	if err := c.do(ctx, http.MethodGet, path, nil, &response, true); err != nil {
		return "", 0, err
	}
	return response.StrokesData, response.Version, nil
}

// SaveNote upserts a single note; a nil version is an unconditional
// overwrite, a non-nil version must match the server's exactly.
func (c *Client) SaveNote(ctx context.Context, bookID, eventID, strokesData string, version *int64) (int64, error) {
	var response struct {
		Version int64 `json:"version"`
	}
	path := fmt.Sprintf("/api/books/%s/events/%s/note", url.PathEscape(bookID), url.PathEscape(eventID))
	body := map[string]any{"strokesData": strokesData}
	if version != nil {
		body["version"] = *version
	}
	if err := c.do(ctx, http.MethodPost, path, body, &response, true); err != nil {
		return 0, err
	}
	return response.Version, nil
}

// DeleteNote soft-deletes the event's note server-side.
func (c *Client) DeleteNote(ctx context.Context, bookID, eventID string) error {
	path := fmt.Sprintf("/api/books/%s/events/%s/note", url.PathEscape(bookID), url.PathEscape(eventID))
	return c.do(ctx, http.MethodDelete, path, nil, nil, true)
}

// FetchDrawing fetches the authoritative drawing for one calendar slot.
func (c *Client) FetchDrawing(ctx context.Context, bookID, date string, viewMode int) (string, int64, error) {
	var response struct {
		StrokesData string `json:"strokesData"`
		Version     int64  `json:"version"`
	}
	path := fmt.Sprintf("/api/books/%s/drawings?date=%s&viewMode=%s",
		url.PathEscape(bookID), url.QueryEscape(date), strconv.Itoa(viewMode))
	if err := c.do(ctx, http.MethodGet, path, nil, &response, true); err != nil {
		return "", 0, err
	}
	return response.StrokesData, response.Version, nil
}

// DeleteDrawing soft-deletes the drawing for one calendar slot server-side.
func (c *Client) DeleteDrawing(ctx context.Context, bookID, date string, viewMode int) error {
	path := fmt.Sprintf("/api/books/%s/drawings?date=%s&viewMode=%s",
		url.PathEscape(bookID), url.QueryEscape(date), strconv.Itoa(viewMode))
	return c.do(ctx, http.MethodDelete, path, nil, nil, true)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any, authorized bool) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	if authorized {
		request.Header.Set(headerDeviceID, c.deviceID)
		request.Header.Set(headerDeviceToken, c.deviceToken)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	switch {
	case response.StatusCode == http.StatusOK:
		if out == nil {
			return nil
		}
		return json.Unmarshal(payload, out)
	case response.StatusCode == http.StatusNotFound:
		return ErrRemoteNotFound
	case response.StatusCode == http.StatusConflict:
		conflict := &RemoteConflict{}
		var body struct {
			Message       string `json:"message"`
			EntityType    string `json:"entityType"`
			EntityID      string `json:"entityId"`
			ServerVersion int64  `json:"serverVersion"`
			ServerData    string `json:"serverData"`
		}
		if err := json.Unmarshal(payload, &body); err == nil {
			conflict.Message = body.Message
			conflict.EntityType = body.EntityType
			conflict.EntityID = body.EntityID
			conflict.ServerVersion = body.ServerVersion
			conflict.ServerData = body.ServerData
		}
		return conflict
	case response.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d", ErrUnreachable, response.StatusCode)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrRemoteRejected, response.StatusCode, strings.TrimSpace(string(payload)))
	}
}
