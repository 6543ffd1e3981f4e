package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/slatebook/slatebook/internal/devices"
	"github.com/slatebook/slatebook/internal/sched"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const deviceIDContextKey = "slatebook_device_id"

const (
	headerDeviceID    = "X-Device-ID"
	headerDeviceToken = "X-Device-Token"
)

var (
	errMissingDeviceService = errors.New("device service dependency required")
	errMissingSchedService  = errors.New("scheduling service dependency required")
	errMissingDatabase      = errors.New("database dependency required")
)

// DeviceValidator validates device credentials and serves device lookups.
type DeviceValidator interface {
	Validate(ctx context.Context, deviceID, token string) error
	Register(ctx context.Context, name string) (devices.Device, string, error)
	Get(ctx context.Context, id string) (devices.Device, error)
}

// Dependencies wires the route handlers. The database handle is an
// explicitly constructed pool passed by the composition root; nothing here
// reaches for process-wide state.
type Dependencies struct {
	Devices      DeviceValidator
	SchedService *sched.Service
	Database     *gorm.DB
	Logger       *zap.Logger
}

// NewHTTPHandler builds the gin router over the provided dependencies.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Devices == nil {
		return nil, errMissingDeviceService
	}
	if deps.SchedService == nil {
		return nil, errMissingSchedService
	}
	if deps.Database == nil {
		return nil, errMissingDatabase
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{headerDeviceID, headerDeviceToken, "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		devices: deps.Devices,
		sched:   deps.SchedService,
		db:      deps.Database,
		logger:  logger,
	}

	router.GET("/health", handler.handleHealth)
	router.POST("/api/devices/register", handler.handleDeviceRegister)

	protected := router.Group("/api")
	protected.Use(handler.authorizeDevice)
	protected.GET("/devices/:deviceId", handler.handleDeviceGet)
	protected.POST("/batch/save", handler.handleBatchSave)
	protected.GET("/books/:bookId/events/:eventId/note", handler.handleNoteGet)
	protected.POST("/books/:bookId/events/:eventId/note", handler.handleNoteSave)
	protected.DELETE("/books/:bookId/events/:eventId/note", handler.handleNoteDelete)
	protected.POST("/notes/batch", handler.handleNotesBatchFetch)
	protected.GET("/books/:bookId/drawings", handler.handleDrawingGet)
	protected.POST("/books/:bookId/drawings", handler.handleDrawingSave)
	protected.DELETE("/books/:bookId/drawings", handler.handleDrawingDelete)
	protected.POST("/books/sync", handler.handleBooksSync)
	protected.POST("/events/sync", handler.handleEventsSync)
	protected.POST("/persons/sync", handler.handlePersonsSync)

	return router, nil
}

type httpHandler struct {
	devices DeviceValidator
	sched   *sched.Service
	db      *gorm.DB
	logger  *zap.Logger
}

func (h *httpHandler) authorizeDevice(c *gin.Context) {
	deviceID := strings.TrimSpace(c.GetHeader(headerDeviceID))
	token := strings.TrimSpace(c.GetHeader(headerDeviceToken))
	if deviceID == "" || token == "" {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "message": "device credentials required"})
		return
	}
	if err := h.devices.Validate(c.Request.Context(), deviceID, token); err != nil {
		if !errors.Is(err, devices.ErrInvalidCredentials) {
			h.logger.Error("device validation failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "message": "validation failed"})
			return
		}
		h.logger.Warn("device credentials rejected", zap.String("device_id", deviceID))
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "message": "invalid device credentials"})
		return
	}
	c.Set(deviceIDContextKey, deviceID)
	c.Next()
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "ok"})
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
// Conflicts always carry the authoritative version and payload.
func (h *httpHandler) writeServiceError(c *gin.Context, err error) {
	if conflict, ok := sched.AsConflict(err); ok {
		c.JSON(http.StatusConflict, gin.H{
			"success":       false,
			"conflict":      true,
			"message":       conflict.Error(),
			"entityType":    conflict.EntityType,
			"entityId":      conflict.EntityID,
			"serverVersion": conflict.ServerVersion,
			"serverData":    conflict.ServerData,
		})
		return
	}
	switch {
	case errors.Is(err, sched.ErrBatchTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"success": false, "message": err.Error()})
	case errors.Is(err, sched.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
	case errors.Is(err, sched.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "device not authorized for book"})
	case errors.Is(err, sched.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "not found"})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "internal error"})
	}
}
