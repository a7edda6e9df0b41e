package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"

	"github.com/kirillkom/symptom-assistant/internal/core/domain"
)

const (
	DriverPGX = "pgx"
	DriverPQ  = "postgres"
)

type AnalysisRepository struct {
	db *sql.DB
}

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// OpenDB opens a pool with either the pgx stdlib driver or lib/pq.
func OpenDB(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	driver = strings.TrimSpace(driver)
	switch driver {
	case "":
		driver = DriverPGX
	case DriverPGX, DriverPQ:
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *AnalysisRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101501)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS analyses (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	symptoms JSONB NOT NULL DEFAULT '[]'::jsonb,
	description TEXT NOT NULL DEFAULT '',
	age TEXT NOT NULL DEFAULT '',
	weight TEXT NOT NULL DEFAULT '',
	gender TEXT NOT NULL DEFAULT '',
	allergies TEXT NOT NULL DEFAULT '',
	medications TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL CHECK (status IN ('pending', 'complete', 'failed')),
	result JSONB,
	confidence_score INTEGER,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	CHECK ((status = 'complete') = (result IS NOT NULL AND confidence_score IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS idx_analyses_owner_created ON analyses(owner_id, created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_analyses_status ON analyses(status);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *AnalysisRepository) Create(ctx context.Context, record *domain.AnalysisRecord) error {
	symptomsJSON, err := json.Marshal(record.Symptoms)
	if err != nil {
		return fmt.Errorf("marshal symptoms: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO analyses (
	id, owner_id, symptoms, description, age, weight, gender, allergies, medications, status, error_message, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`,
		record.ID, record.OwnerID, symptomsJSON, record.Description, record.Age, record.Weight, record.Gender,
		record.Allergies, record.Medications, string(record.Status), record.Error, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		return domain.WrapError(domain.ErrPersistence, "insert analysis", err)
	}
	return nil
}

const selectAnalysisColumns = `
SELECT id, owner_id, symptoms, description, age, weight, gender, allergies, medications, status, result, confidence_score, error_message, created_at, updated_at
FROM analyses
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (*domain.AnalysisRecord, error) {
	var rec domain.AnalysisRecord
	var symptomsRaw, resultRaw []byte
	var status string
	var score sql.NullInt64

	if err := row.Scan(
		&rec.ID, &rec.OwnerID, &symptomsRaw, &rec.Description, &rec.Age, &rec.Weight, &rec.Gender,
		&rec.Allergies, &rec.Medications, &status, &resultRaw, &score, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(symptomsRaw, &rec.Symptoms); err != nil {
		return nil, fmt.Errorf("unmarshal symptoms: %w", err)
	}
	if len(resultRaw) > 0 {
		var result domain.AnalysisResult
		if err := json.Unmarshal(resultRaw, &result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		rec.Result = &result
	}
	if score.Valid {
		v := int(score.Int64)
		rec.ConfidenceScore = &v
	}
	rec.Status = domain.AnalysisStatus(status)
	return &rec, nil
}

func (r *AnalysisRepository) GetByID(ctx context.Context, id string) (*domain.AnalysisRecord, error) {
	rec, err := scanAnalysis(r.db.QueryRowContext(ctx, selectAnalysisColumns+`WHERE id = $1`, id))
	if err != nil {
		return nil, readError("get analysis", id, err)
	}
	return rec, nil
}

// GetForOwner reports another owner's record as not found.
func (r *AnalysisRepository) GetForOwner(ctx context.Context, ownerID, id string) (*domain.AnalysisRecord, error) {
	rec, err := scanAnalysis(r.db.QueryRowContext(ctx, selectAnalysisColumns+`WHERE id = $1 AND owner_id = $2`, id, ownerID))
	if err != nil {
		return nil, readError("get analysis for owner", id, err)
	}
	return rec, nil
}

func (r *AnalysisRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.AnalysisRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectAnalysisColumns+`
WHERE owner_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3
`, ownerID, limit, offset)
	if err != nil {
		return nil, domain.WrapError(domain.ErrPersistence, "list analyses", err)
	}
	defer rows.Close()

	out := make([]domain.AnalysisRecord, 0, limit)
	for rows.Next() {
		rec, err := scanAnalysis(rows)
		if err != nil {
			return nil, domain.WrapError(domain.ErrPersistence, "scan analysis", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrPersistence, "iterate analyses", err)
	}
	return out, nil
}

func (r *AnalysisRepository) StatsByOwner(ctx context.Context, ownerID string) (*domain.AnalysisStats, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE status = 'pending'),
	COUNT(*) FILTER (WHERE status = 'complete'),
	COUNT(*) FILTER (WHERE status = 'failed'),
	AVG(confidence_score) FILTER (WHERE status = 'complete')
FROM analyses
WHERE owner_id = $1
`, ownerID)

	var stats domain.AnalysisStats
	var avg sql.NullFloat64
	if err := row.Scan(&stats.Total, &stats.Pending, &stats.Complete, &stats.Failed, &avg); err != nil {
		return nil, domain.WrapError(domain.ErrPersistence, "analysis stats", err)
	}
	if avg.Valid {
		stats.AverageConfidence = &avg.Float64
	}
	return &stats, nil
}

// SaveResult writes the result, score and complete status in one statement.
// Only a pending record is updated; anything else is ErrConflict.
func (r *AnalysisRepository) SaveResult(ctx context.Context, id string, result domain.AnalysisResult, score int) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
UPDATE analyses
SET result = $2, confidence_score = $3, status = 'complete', error_message = '', updated_at = $4
WHERE id = $1 AND status = 'pending'
`, id, resultJSON, score, time.Now().UTC())
	if err != nil {
		return domain.WrapError(domain.ErrPersistence, "save analysis result", err)
	}
	applied, err := rowsApplied(res, "save analysis result")
	if err != nil || applied {
		return err
	}

	status, err := r.statusOf(ctx, id, "save analysis result")
	if err != nil {
		return err
	}
	return domain.WrapError(domain.ErrConflict, "save analysis result", fmt.Errorf("analysis %s is %s", id, status))
}

func (r *AnalysisRepository) MarkPending(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE analyses
SET status = 'pending', error_message = '', updated_at = $2
WHERE id = $1 AND status = 'failed'
`, id, time.Now().UTC())
	if err != nil {
		return domain.WrapError(domain.ErrPersistence, "mark analysis pending", err)
	}
	applied, err := rowsApplied(res, "mark analysis pending")
	if err != nil || applied {
		return err
	}

	status, err := r.statusOf(ctx, id, "mark analysis pending")
	if err != nil {
		return err
	}
	// Anything but failed means another run already claimed the record.
	return domain.WrapError(domain.ErrConflict, "mark analysis pending", fmt.Errorf("analysis %s is %s", id, status))
}

// MarkFailed never downgrades a complete record.
func (r *AnalysisRepository) MarkFailed(ctx context.Context, id string, errMessage string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE analyses
SET status = 'failed', error_message = $2, updated_at = $3
WHERE id = $1 AND status <> 'complete'
`, id, errMessage, time.Now().UTC())
	if err != nil {
		return domain.WrapError(domain.ErrPersistence, "mark analysis failed", err)
	}
	applied, err := rowsApplied(res, "mark analysis failed")
	if err != nil || applied {
		return err
	}
	_, err = r.statusOf(ctx, id, "mark analysis failed")
	return err
}

func (r *AnalysisRepository) statusOf(ctx context.Context, id, operation string) (domain.AnalysisStatus, error) {
	var status string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM analyses WHERE id = $1`, id).Scan(&status)
	if err != nil {
		return "", readError(operation, id, err)
	}
	return domain.AnalysisStatus(status), nil
}

func rowsApplied(res sql.Result, operation string) (bool, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return false, domain.WrapError(domain.ErrPersistence, operation, fmt.Errorf("rows affected: %w", err))
	}
	return affected > 0, nil
}

func readError(operation, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WrapError(domain.ErrNotFound, operation, fmt.Errorf("id=%s", id))
	}
	return domain.WrapError(domain.ErrPersistence, operation, err)
}
