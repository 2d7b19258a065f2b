package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wardwatch/wardwatch/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) Store {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) InsertMonitoring(ctx context.Context, snap *Monitoring) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_monitoring_snapshots (response_created_at, hours_threshold, payload)
		VALUES ($1, $2, $3)
		RETURNING snapshot_id`,
		snap.CreatedAt, snap.HoursThreshold, snap.Payload,
	).Scan(&snap.ID)
	if err != nil {
		return fmt.Errorf("insert monitoring snapshot: %w", err)
	}
	return nil
}

func (r *repoPG) LatestMonitoring(ctx context.Context, hoursThreshold int) (*Monitoring, error) {
	var snap Monitoring
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT snapshot_id, response_created_at, hours_threshold, payload
		FROM patient_monitoring_snapshots
		WHERE hours_threshold = $1 AND deleted_at IS NULL
		ORDER BY response_created_at DESC, snapshot_id DESC
		LIMIT 1`, hoursThreshold,
	).Scan(&snap.ID, &snap.CreatedAt, &snap.HoursThreshold, &snap.Payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("latest monitoring snapshot: %w", err)
	}
	return &snap, nil
}

func (r *repoPG) InsertDetail(ctx context.Context, snap *Detail) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_detail_snapshots (patient_id, response_created_at, payload)
		VALUES ($1, $2, $3)
		RETURNING snapshot_id`,
		snap.PatientID, snap.CreatedAt, snap.Payload,
	).Scan(&snap.ID)
	if err != nil {
		return fmt.Errorf("insert detail snapshot: %w", err)
	}
	return nil
}

func (r *repoPG) LatestDetail(ctx context.Context, patientID int64) (*Detail, error) {
	var snap Detail
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT snapshot_id, patient_id, response_created_at, payload
		FROM patient_detail_snapshots
		WHERE patient_id = $1 AND deleted_at IS NULL
		ORDER BY response_created_at DESC, snapshot_id DESC
		LIMIT 1`, patientID,
	).Scan(&snap.ID, &snap.PatientID, &snap.CreatedAt, &snap.Payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("latest detail snapshot: %w", err)
	}
	return &snap, nil
}
