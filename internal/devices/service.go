package devices

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	tokenIssuer   = "slatebook-api"
	tokenAudience = "slatebook-device"

	validationCacheTTL   = 5 * time.Minute
	validationCacheSweep = 10 * time.Minute
)

var (
	errMissingDatabase      = errors.New("devices: database handle is required")
	errMissingSigningSecret = errors.New("devices: signing secret is required")
	// ErrInvalidCredentials indicates a missing, malformed, or revoked
	// device identity.
	ErrInvalidCredentials = errors.New("devices: invalid credentials")
	// ErrNotFound indicates the device is not registered.
	ErrNotFound = errors.New("devices: not found")
)

// Device is a registered clinic tablet or phone.
type Device struct {
	ID                  string `gorm:"column:id;primaryKey;size:36;not null"`
	Name                string `gorm:"column:name;size:190;not null"`
	Revoked             bool   `gorm:"column:revoked;not null;default:false"`
	RegisteredAtSeconds int64  `gorm:"column:registered_at_s;not null"`
	LastSeenAtSeconds   int64  `gorm:"column:last_seen_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Device) TableName() string { return "devices" }

// ServiceConfig describes the device identity dependencies.
type ServiceConfig struct {
	Database      *gorm.DB
	SigningSecret []byte
	Clock         func() time.Time
	Logger        *zap.Logger
}

// Service manages device registration and credential validation. Device
// tokens are HS256 JWTs bound to the device id; validations are cached
// with a short TTL so every request does not pay for signature checks and
// a database read.
type Service struct {
	db         *gorm.DB
	secret     []byte
	clock      func() time.Time
	logger     *zap.Logger
	validCache *gocache.Cache
}

// NewService constructs the device identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		secret:     cfg.SigningSecret,
		clock:      clock,
		logger:     logger,
		validCache: gocache.New(validationCacheTTL, validationCacheSweep),
	}, nil
}

// Register creates a device row and issues its long-lived token.
func (s *Service) Register(ctx context.Context, name string) (Device, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Device{}, "", fmt.Errorf("%w: empty device name", ErrInvalidCredentials)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Device{}, "", err
	}

	now := s.clock().UTC()
	device := Device{
		ID:                  id.String(),
		Name:                name,
		RegisteredAtSeconds: now.Unix(),
		LastSeenAtSeconds:   now.Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&device).Error; err != nil {
		return Device{}, "", err
	}

	token, err := s.issueToken(device.ID, now)
	if err != nil {
		return Device{}, "", err
	}

	s.logger.Info("device registered", zap.String("device_id", device.ID), zap.String("name", name))
	return device, token, nil
}

// Get loads one registered device.
func (s *Service) Get(ctx context.Context, id string) (Device, error) {
	var device Device
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Device{}, ErrNotFound
	}
	if err != nil {
		return Device{}, err
	}
	return device, nil
}

// Validate checks the device id and token pair. The token signature must
// verify, its subject must match the claimed id, and the device row must
// exist unrevoked.
func (s *Service) Validate(ctx context.Context, deviceID, token string) error {
	if deviceID == "" || token == "" {
		return ErrInvalidCredentials
	}

	cacheKey := deviceID + "\x1f" + token
	if _, ok := s.validCache.Get(cacheKey); ok {
		return nil
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		token,
		claims,
		func(parsed *jwt.Token) (interface{}, error) {
			if parsed.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", parsed.Method.Alg())
			}
			return s.secret, nil
		},
		jwt.WithAudience(tokenAudience),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(s.clock),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if claims.Subject != deviceID {
		return fmt.Errorf("%w: token subject mismatch", ErrInvalidCredentials)
	}

	var device Device
	dbErr := s.db.WithContext(ctx).Where("id = ?", deviceID).Take(&device).Error
	if errors.Is(dbErr, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: unknown device", ErrInvalidCredentials)
	}
	if dbErr != nil {
		return dbErr
	}
	if device.Revoked {
		return fmt.Errorf("%w: device revoked", ErrInvalidCredentials)
	}

	now := s.clock().UTC().Unix()
	_ = s.db.WithContext(ctx).
		Model(&Device{}).
		Where("id = ?", deviceID).
		Update("last_seen_at_s", now).Error

	s.validCache.SetDefault(cacheKey, struct{}{})
	return nil
}

func (s *Service) issueToken(deviceID string, now time.Time) (string, error) {
	registered := jwt.RegisteredClaims{
		Subject:  deviceID,
		Issuer:   tokenIssuer,
		Audience: []string{tokenAudience},
		IssuedAt: jwt.NewNumericDate(now),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, registered)
	return token.SignedString(s.secret)
}

// Models lists the device tables for schema migration.
func Models() []any {
	return []any{&Device{}}
}
