package cache

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// DefaultMaxBytes bounds the cumulative cached payload size.
	DefaultMaxBytes = int64(50 * 1024 * 1024)
	// DefaultMaxAge bounds how long an untouched payload stays cached.
	DefaultMaxAge = 7 * 24 * time.Hour
	// DefaultInterval paces the background sweep.
	DefaultInterval = 10 * time.Minute
)

var errMissingDatabase = errors.New("cache: database handle is required")

// cachedTables lists the payload-bearing replica tables the sweeper manages,
// with the column holding the evictable payload.
var cachedTables = []struct {
	table         string
	payloadColumn string
}{
	{table: "notes", payloadColumn: "pages_json"},
	{table: "schedule_drawings", payloadColumn: "strokes_json"},
}

// Config describes the eviction budget and dependencies.
type Config struct {
	Database *gorm.DB
	MaxBytes int64
	MaxAge   time.Duration
	Interval time.Duration
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Sweeper enforces the byte and age budget over cached note and drawing
// payloads. Rows with local unsynced changes are never discardable, so the
// sweeper skips anything dirty; eviction clears the payload column only and
// the entity row survives.
type Sweeper struct {
	db       *gorm.DB
	maxBytes int64
	maxAge   time.Duration
	interval time.Duration
	clock    func() time.Time
	logger   *zap.Logger
	kick     chan struct{}
}

// NewSweeper constructs the sweeper with defaulted budgets.
func NewSweeper(cfg Config) (*Sweeper, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		db:       cfg.Database,
		maxBytes: maxBytes,
		maxAge:   maxAge,
		interval: interval,
		clock:    clock,
		logger:   logger,
		kick:     make(chan struct{}, 1),
	}, nil
}

// Touch records a read access: the hit count climbs and the cached stamp
// refreshes, in one statement so it cannot race the sweep.
func (s *Sweeper) Touch(ctx context.Context, table, id string) error {
	now := s.clock().UTC().Unix()
	return s.db.WithContext(ctx).
		Table(table).
		Where("id = ?", id).
		Updates(map[string]any{
			"cache_hit_count": gorm.Expr("cache_hit_count + 1"),
			"cached_at_s":     now,
		}).Error
}

// Kick requests a sweep on the next loop iteration, used after writes.
func (s *Sweeper) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run sweeps on the configured interval and on kicks until the context
// ends. Sweep failures are logged and retried on the next trigger; they
// never propagate to readers or writers.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.kick:
		}
		if err := s.Sweep(ctx); err != nil {
			s.logger.Warn("cache sweep failed", zap.Error(err))
		}
	}
}

type victim struct {
	table        string
	id           string
	payloadBytes int64
	hitCount     int64
	cachedAt     int64
}

// Sweep expires aged payloads, then evicts least-frequently-used payloads,
// oldest first on ties, until the cached total fits the byte budget.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := s.clock().UTC()
	cutoff := now.Add(-s.maxAge).Unix()

	for _, spec := range cachedTables {
		if err := s.db.WithContext(ctx).
			Table(spec.table).
			Where("cached_at_s IS NOT NULL AND cached_at_s < ? AND is_dirty = ?", cutoff, false).
			Updates(evictionUpdates(spec.payloadColumn)).Error; err != nil {
			return err
		}
	}

	total, candidates, err := s.collectCandidates(ctx)
	if err != nil {
		return err
	}
	if total <= s.maxBytes {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].hitCount != candidates[j].hitCount {
			return candidates[i].hitCount < candidates[j].hitCount
		}
		return candidates[i].cachedAt < candidates[j].cachedAt
	})

	evicted := 0
	for _, v := range candidates {
		if total <= s.maxBytes {
			break
		}
		// The dirty guard re-checks inside the statement: a row that went
		// dirty after candidate selection stays put.
		result := s.db.WithContext(ctx).
			Table(v.table).
			Where("id = ? AND is_dirty = ?", v.id, false).
			Updates(evictionUpdates(payloadColumn(v.table)))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			continue
		}
		total -= v.payloadBytes
		evicted++
	}

	if evicted > 0 {
		s.logger.Info("cache sweep evicted payloads",
			zap.Int("evicted", evicted),
			zap.Int64("cached_bytes", total),
			zap.Int64("budget_bytes", s.maxBytes))
	}
	return nil
}

// CachedBytes reports the current cached payload total across tables.
func (s *Sweeper) CachedBytes(ctx context.Context) (int64, error) {
	total, _, err := s.collectCandidates(ctx)
	return total, err
}

func (s *Sweeper) collectCandidates(ctx context.Context) (int64, []victim, error) {
	var total int64
	var candidates []victim

	for _, spec := range cachedTables {
		var rows []struct {
			ID           string
			PayloadBytes int64
			CacheHit     int64 `gorm:"column:cache_hit_count"`
			CachedAt     int64 `gorm:"column:cached_at_s"`
			IsDirty      bool
		}
		err := s.db.WithContext(ctx).
			Table(spec.table).
			Select("id, payload_bytes, cache_hit_count, cached_at_s, is_dirty").
			Where("cached_at_s IS NOT NULL AND payload_bytes > 0").
			Find(&rows).Error
		if err != nil {
			return 0, nil, err
		}
		for _, row := range rows {
			total += row.PayloadBytes
			if row.IsDirty {
				continue
			}
			candidates = append(candidates, victim{
				table:        spec.table,
				id:           row.ID,
				payloadBytes: row.PayloadBytes,
				hitCount:     row.CacheHit,
				cachedAt:     row.CachedAt,
			})
		}
	}
	return total, candidates, nil
}

func evictionUpdates(column string) map[string]any {
	return map[string]any{
		column:            "",
		"payload_bytes":   0,
		"cached_at_s":     nil,
		"cache_hit_count": 0,
	}
}

func payloadColumn(table string) string {
	for _, spec := range cachedTables {
		if spec.table == table {
			return spec.payloadColumn
		}
	}
	return ""
}
