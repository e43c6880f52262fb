package ingest

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/pasco78/store-api-project/internal/db"
	"github.com/pasco78/store-api-project/internal/model"
	"github.com/pasco78/store-api-project/internal/store"
)

// Run statuses recorded in the sync_log table.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is one recorded region sync.
type Run struct {
	ID          string
	DivID       string
	Region      string
	Status      string
	StartedAt   time.Time
	CompletedAt *time.Time
	Total       int64
	Created     int64
	Errors      int64
	Error       *string
}

// SyncLog records region sync runs for operability: each run gets a row at
// start, finalized with counters on completion or a cause on failure.
type SyncLog interface {
	Start(ctx context.Context, divID, region string) (string, error)
	Complete(ctx context.Context, id string, sum model.SyncSummary) error
	Fail(ctx context.Context, id string, cause error) error
	Recent(ctx context.Context, limit int) ([]Run, error)
	// LastSuccess returns the most recent completed run for the region,
	// or nil when the region has never synced to completion.
	LastSuccess(ctx context.Context, region string) (*Run, error)
}

// NewSyncLog builds the sync log matching the store's backing database.
func NewSyncLog(st store.Store) (SyncLog, error) {
	switch s := st.(type) {
	case *store.PostgresStore:
		return &postgresSyncLog{pool: s.Pool()}, nil
	case *store.SQLiteStore:
		return &sqliteSyncLog{db: s.DB()}, nil
	default:
		return nil, eris.Errorf("ingest: no sync log for store %T", st)
	}
}

type postgresSyncLog struct {
	pool db.Pool
}

func (l *postgresSyncLog) Start(ctx context.Context, divID, region string) (string, error) {
	id := uuid.NewString()
	_, err := l.pool.Exec(ctx,
		`INSERT INTO sync_log (id, div_id, region, status, started_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, divID, region, StatusRunning, time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "ingest: start sync log for %s", region)
	}
	return id, nil
}

func (l *postgresSyncLog) Complete(ctx context.Context, id string, sum model.SyncSummary) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE sync_log SET status = $1, completed_at = $2, total = $3, created = $4, errors = $5
		 WHERE id = $6`,
		StatusCompleted, time.Now().UTC(), sum.TotalProcessed, sum.Created, sum.Errors, id,
	)
	return eris.Wrapf(err, "ingest: complete sync log %s", id)
}

func (l *postgresSyncLog) Fail(ctx context.Context, id string, cause error) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE sync_log SET status = $1, completed_at = $2, error = $3 WHERE id = $4`,
		StatusFailed, time.Now().UTC(), cause.Error(), id,
	)
	return eris.Wrapf(err, "ingest: fail sync log %s", id)
}

func (l *postgresSyncLog) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.pool.Query(ctx,
		`SELECT id, div_id, region, status, started_at, completed_at, total, created, errors, error
		 FROM sync_log ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: list sync log")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.DivID, &r.Region, &r.Status, &r.StartedAt,
			&r.CompletedAt, &r.Total, &r.Created, &r.Errors, &r.Error); err != nil {
			return nil, eris.Wrap(err, "ingest: scan sync log row")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "ingest: iterate sync log")
}

func (l *postgresSyncLog) LastSuccess(ctx context.Context, region string) (*Run, error) {
	var r Run
	err := l.pool.QueryRow(ctx,
		`SELECT id, div_id, region, status, started_at, completed_at, total, created, errors, error
		 FROM sync_log WHERE region = $1 AND status = $2
		 ORDER BY completed_at DESC LIMIT 1`,
		region, StatusCompleted,
	).Scan(&r.ID, &r.DivID, &r.Region, &r.Status, &r.StartedAt,
		&r.CompletedAt, &r.Total, &r.Created, &r.Errors, &r.Error)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "ingest: last success for %s", region)
	}
	return &r, nil
}

type sqliteSyncLog struct {
	db *sql.DB
}

func (l *sqliteSyncLog) Start(ctx context.Context, divID, region string) (string, error) {
	id := uuid.NewString()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO sync_log (id, div_id, region, status, started_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, divID, region, StatusRunning, time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "ingest: start sync log for %s", region)
	}
	return id, nil
}

func (l *sqliteSyncLog) Complete(ctx context.Context, id string, sum model.SyncSummary) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE sync_log SET status = ?, completed_at = ?, total = ?, created = ?, errors = ?
		 WHERE id = ?`,
		StatusCompleted, time.Now().UTC(), sum.TotalProcessed, sum.Created, sum.Errors, id,
	)
	return eris.Wrapf(err, "ingest: complete sync log %s", id)
}

func (l *sqliteSyncLog) Fail(ctx context.Context, id string, cause error) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE sync_log SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		StatusFailed, time.Now().UTC(), cause.Error(), id,
	)
	return eris.Wrapf(err, "ingest: fail sync log %s", id)
}

func (l *sqliteSyncLog) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, div_id, region, status, started_at, completed_at, total, created, errors, error
		 FROM sync_log ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: list sync log")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var completed sql.NullTime
		var errMsg sql.NullString
		if err := rows.Scan(&r.ID, &r.DivID, &r.Region, &r.Status, &r.StartedAt,
			&completed, &r.Total, &r.Created, &r.Errors, &errMsg); err != nil {
			return nil, eris.Wrap(err, "ingest: scan sync log row")
		}
		if completed.Valid {
			t := completed.Time
			r.CompletedAt = &t
		}
		if errMsg.Valid {
			s := errMsg.String
			r.Error = &s
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "ingest: iterate sync log")
}

func (l *sqliteSyncLog) LastSuccess(ctx context.Context, region string) (*Run, error) {
	var r Run
	var completed sql.NullTime
	var errMsg sql.NullString
	err := l.db.QueryRowContext(ctx,
		`SELECT id, div_id, region, status, started_at, completed_at, total, created, errors, error
		 FROM sync_log WHERE region = ? AND status = ?
		 ORDER BY completed_at DESC LIMIT 1`,
		region, StatusCompleted,
	).Scan(&r.ID, &r.DivID, &r.Region, &r.Status, &r.StartedAt,
		&completed, &r.Total, &r.Created, &r.Errors, &errMsg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "ingest: last success for %s", region)
	}
	if completed.Valid {
		t := completed.Time
		r.CompletedAt = &t
	}
	if errMsg.Valid {
		s := errMsg.String
		r.Error = &s
	}
	return &r, nil
}
