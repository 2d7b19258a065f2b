package detail

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
)

// DefaultStaleAfter is how old a stored detail snapshot may be before a read
// triggers recomputation. Detail documents tolerate more staleness than the
// monitoring list.
const DefaultStaleAfter = 30 * time.Minute

// Service owns the per-patient detail snapshot lifecycle: scheduled sweeps,
// on-demand recomputation, the self-healing read path, and payload caching.
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

// NewService wires the detail pipeline. runTx may be nil, in which case
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

// Refresh recomputes the detail snapshot for one patient and appends it to
// the store. Returns records.ErrNotFound when the patient does not exist.
func (s *Service) Refresh(ctx context.Context, now time.Time, patientID int64) (*snapshot.Detail, error) {
	start := time.Now()
	var snap *snapshot.Detail
	err := s.runTx(ctx, func(ctx context.Context) error {
		payload, err := s.builder.Build(ctx, patientID, now, s.releaseGrace)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal detail payload: %w", err)
		}
		snap = &snapshot.Detail{
			PatientID: patientID,
			CreatedAt: now,
			Payload:   raw,
		}
		return s.store.InsertDetail(ctx, snap)
	})
	if err != nil {
		if errors.Is(err, records.ErrNotFound) {
			return nil, err
		}
		metrics.RecordSnapshotBuild("detail", "error", time.Since(start))
		return nil, err
	}
	metrics.RecordSnapshotBuild("detail", "success", time.Since(start))
	s.logger.Debug().
		Int64("snapshot_id", snap.ID).
		Int64("patient_id", patientID).
		Msg("detail snapshot stored")

	s.cacheSet(ctx, snap)
	return snap, nil
}

// RefreshAll recomputes detail snapshots for every patient holding an active
// admission. Record reads and snapshot writes share one transaction so the
// sweep sees a consistent point in time. Returns the number stored.
func (s *Service) RefreshAll(ctx context.Context, now time.Time) (int, error) {
	start := time.Now()
	var stored []*snapshot.Detail
	err := s.runTx(ctx, func(ctx context.Context) error {
		ids, err := s.builder.ActivePatientIDs(ctx, now, s.releaseGrace)
		if err != nil {
			return err
		}
		for _, id := range ids {
			payload, err := s.builder.Build(ctx, id, now, s.releaseGrace)
			if err != nil {
				return fmt.Errorf("build detail for patient %d: %w", id, err)
			}
			raw, err := json.Marshal(payload)
			if err != nil {
				return fmt.Errorf("marshal detail payload: %w", err)
			}
			snap := &snapshot.Detail{PatientID: id, CreatedAt: now, Payload: raw}
			if err := s.store.InsertDetail(ctx, snap); err != nil {
				return err
			}
			stored = append(stored, snap)
		}
		return nil
	})
	if err != nil {
		metrics.RecordSnapshotBuild("detail", "error", time.Since(start))
		return 0, err
	}
	metrics.RecordSnapshotBuild("detail", "success", time.Since(start))
	for _, snap := range stored {
		s.cacheSet(ctx, snap)
	}
	s.logger.Info().Int("snapshots", len(stored)).Msg("detail snapshots stored")
	return len(stored), nil
}

// Latest returns the snapshot that should serve a read for the patient: the
// cached or stored one while fresh, otherwise a rebuilt one. Concurrent
// rebuilds for the same patient collapse into a single computation. When a
// rebuild fails and a stored snapshot exists, the stale snapshot is served
// instead of the error; an unknown patient always yields
// records.ErrNotFound.
func (s *Service) Latest(ctx context.Context, now time.Time, patientID int64) (*snapshot.Detail, error) {
	if snap := s.cacheGet(ctx, patientID); snap != nil && now.Sub(snap.CreatedAt) <= s.staleAfter {
		return snap, nil
	}

	stored, err := s.store.LatestDetail(ctx, patientID)
	if err != nil && !errors.Is(err, snapshot.ErrNoSnapshot) {
		return nil, err
	}
	if stored != nil && now.Sub(stored.CreatedAt) <= s.staleAfter {
		s.cacheSet(ctx, stored)
		return stored, nil
	}

	rebuilt, err, _ := s.group.Do(strconv.FormatInt(patientID, 10), func() (interface{}, error) {
		return s.Refresh(ctx, now, patientID)
	})
	if err != nil {
		if errors.Is(err, records.ErrNotFound) {
			return nil, err
		}
		if stored != nil {
			s.logger.Warn().Err(err).
				Int64("patient_id", patientID).
				Msg("serving stale detail snapshot after failed rebuild")
			metrics.RecordStaleServe("detail")
			return stored, nil
		}
		return nil, err
	}
	return rebuilt.(*snapshot.Detail), nil
}

// Document returns the decoded payload of the serving snapshot for the
// patient.
func (s *Service) Document(ctx context.Context, now time.Time, patientID int64) (*Payload, error) {
	snap, err := s.Latest(ctx, now, patientID)
	if err != nil {
		return nil, err
	}
	var payload Payload
	if err := json.Unmarshal(snap.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode detail payload: %w", err)
	}
	return &payload, nil
}

func (s *Service) cacheGet(ctx context.Context, patientID int64) *snapshot.Detail {
	if s.cache == nil {
		return nil
	}
	val, err := s.cache.Get(ctx, cache.DetailKey(patientID))
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			metrics.RecordCacheRequest("detail", "miss")
		} else {
			metrics.RecordCacheRequest("detail", "error")
			s.logger.Warn().Err(err).Msg("detail cache read failed")
		}
		return nil
	}
	var snap snapshot.Detail
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		metrics.RecordCacheRequest("detail", "error")
		return nil
	}
	metrics.RecordCacheRequest("detail", "hit")
	return &snap
}

func (s *Service) cacheSet(ctx context.Context, snap *snapshot.Detail) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cache.DetailKey(snap.PatientID), string(raw), s.cacheTTL); err != nil {
		s.logger.Warn().Err(err).Msg("detail cache write failed")
	}
}
