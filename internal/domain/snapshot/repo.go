package snapshot

import (
	"context"
	"errors"
)

// ErrNoSnapshot indicates no snapshot has ever been stored for the key.
var ErrNoSnapshot = errors.New("no snapshot stored")

// Store is the append-only snapshot log. Writes never update or delete
// existing rows through this interface; reads return the
// highest-creation-timestamp row for the key.
type Store interface {
	InsertMonitoring(ctx context.Context, snap *Monitoring) error
	LatestMonitoring(ctx context.Context, hoursThreshold int) (*Monitoring, error)
	InsertDetail(ctx context.Context, snap *Detail) error
	LatestDetail(ctx context.Context, patientID int64) (*Detail, error)
}
