package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/wardwatch/wardwatch/internal/domain/records"
	"github.com/wardwatch/wardwatch/internal/domain/snapshot"
	"github.com/wardwatch/wardwatch/internal/platform/cache"
	"github.com/wardwatch/wardwatch/internal/platform/db"
	"github.com/wardwatch/wardwatch/internal/platform/metrics"
	"github.com/wardwatch/wardwatch/pkg/pagination"
)

// DefaultStaleAfter is how old a stored snapshot may be before a read
// triggers recomputation.
const DefaultStaleAfter = 10 * time.Minute

// Service owns the monitoring snapshot lifecycle: scheduled and on-demand
// recomputation, the self-healing read path, and payload caching.
type Service struct {
	builder *Builder
	store   snapshot.Store
	runTx   db.TxRunner
	logger  zerolog.Logger

	cache    cache.KV
	cacheTTL time.Duration

	releaseGrace time.Duration
	staleAfter   time.Duration

	group singleflight.Group
}

// NewService wires the monitoring pipeline. runTx may be nil, in which case
// aggregation passes run without transaction isolation (used in tests).
func NewService(builder *Builder, store snapshot.Store, runTx db.TxRunner, logger zerolog.Logger) *Service {
	if runTx == nil {
		runTx = db.PassthroughRunner()
	}
	return &Service{
		builder:      builder,
		store:        store,
		runTx:        runTx,
		logger:       logger,
		releaseGrace: records.DefaultReleaseGrace,
		staleAfter:   DefaultStaleAfter,
	}
}

// SetCache attaches an optional payload cache to the service.
func (s *Service) SetCache(kv cache.KV, ttl time.Duration) {
	s.cache = kv
	s.cacheTTL = ttl
}

// SetReleaseGrace overrides the post-release grace window.
func (s *Service) SetReleaseGrace(d time.Duration) {
	s.releaseGrace = d
}

// SetStaleAfter overrides the snapshot freshness window.
func (s *Service) SetStaleAfter(d time.Duration) {
	s.staleAfter = d
}

// Refresh recomputes the monitoring snapshot for the threshold and appends it
// to the store. Record reads and the snapshot write share one transaction so
// the pass sees a consistent point in time. Returns the stored snapshot and
// the number of entries in it.
func (s *Service) Refresh(ctx context.Context, now time.Time, hoursThreshold int) (*snapshot.Monitoring, int, error) {
	start := time.Now()
	var (
		snap  *snapshot.Monitoring
		count int
	)
	err := s.runTx(ctx, func(ctx context.Context) error {
		payload, err := s.builder.Build(ctx, now, hoursThreshold, s.releaseGrace)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal monitoring payload: %w", err)
		}
		count = len(payload.Patients)
		snap = &snapshot.Monitoring{
			CreatedAt:      now,
			HoursThreshold: hoursThreshold,
			Payload:        raw,
		}
		return s.store.InsertMonitoring(ctx, snap)
	})
	if err != nil {
		metrics.RecordSnapshotBuild("monitoring", "error", time.Since(start))
		return nil, 0, err
	}
	metrics.RecordSnapshotBuild("monitoring", "success", time.Since(start))
	s.logger.Info().
		Int64("snapshot_id", snap.ID).
		Int("hours_threshold", hoursThreshold).
		Int("patients", count).
		Msg("monitoring snapshot stored")

	s.cacheSet(ctx, snap)
	return snap, count, nil
}

// Latest returns the snapshot that should serve a read: the cached or stored
// one while fresh, otherwise a rebuilt one. Concurrent rebuilds for the same
// threshold collapse into a single computation. When a rebuild fails and any
// stored snapshot exists, the stale snapshot is served instead of the error.
func (s *Service) Latest(ctx context.Context, now time.Time, hoursThreshold int) (*snapshot.Monitoring, error) {
	if snap := s.cacheGet(ctx, hoursThreshold); snap != nil && now.Sub(snap.CreatedAt) <= s.staleAfter {
		return snap, nil
	}

	stored, err := s.store.LatestMonitoring(ctx, hoursThreshold)
	if err != nil && !errors.Is(err, snapshot.ErrNoSnapshot) {
		return nil, err
	}
	if stored != nil && now.Sub(stored.CreatedAt) <= s.staleAfter {
		s.cacheSet(ctx, stored)
		return stored, nil
	}

	rebuilt, err, _ := s.group.Do(strconv.Itoa(hoursThreshold), func() (interface{}, error) {
		snap, _, err := s.Refresh(ctx, now, hoursThreshold)
		return snap, err
	})
	if err != nil {
		if stored != nil {
			s.logger.Warn().Err(err).
				Int("hours_threshold", hoursThreshold).
				Msg("serving stale monitoring snapshot after failed rebuild")
			metrics.RecordStaleServe("monitoring")
			return stored, nil
		}
		return nil, err
	}
	return rebuilt.(*snapshot.Monitoring), nil
}

// Entries serves the monitoring read path: latest snapshot for the
// threshold, department filter, then pagination. Total counts entries after
// the filter; ordering inside the snapshot is preserved.
func (s *Service) Entries(ctx context.Context, now time.Time, hoursThreshold int, department string, pg pagination.Params) ([]*Entry, int, error) {
	snap, err := s.Latest(ctx, now, hoursThreshold)
	if err != nil {
		return nil, 0, err
	}

	var payload Payload
	if err := json.Unmarshal(snap.Payload, &payload); err != nil {
		return nil, 0, fmt.Errorf("decode monitoring payload: %w", err)
	}

	entries := payload.Patients
	if department != "" {
		filtered := make([]*Entry, 0, len(entries))
		for _, e := range entries {
			if e.Department != nil && *e.Department == department {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	total := len(entries)
	start, end := pg.Slice(total)
	page := entries[start:end]
	if page == nil {
		page = []*Entry{}
	}
	return page, total, nil
}

func (s *Service) cacheGet(ctx context.Context, hoursThreshold int) *snapshot.Monitoring {
	if s.cache == nil {
		return nil
	}
	val, err := s.cache.Get(ctx, cache.MonitoringKey(hoursThreshold))
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			metrics.RecordCacheRequest("monitoring", "miss")
		} else {
			metrics.RecordCacheRequest("monitoring", "error")
			s.logger.Warn().Err(err).Msg("monitoring cache read failed")
		}
		return nil
	}
	var snap snapshot.Monitoring
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		metrics.RecordCacheRequest("monitoring", "error")
		return nil
	}
	metrics.RecordCacheRequest("monitoring", "hit")
	return &snap
}

func (s *Service) cacheSet(ctx context.Context, snap *snapshot.Monitoring) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cache.MonitoringKey(snap.HoursThreshold), string(raw), s.cacheTTL); err != nil {
		s.logger.Warn().Err(err).Msg("monitoring cache write failed")
	}
}
