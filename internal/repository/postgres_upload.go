package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/felipepmaragno/llm-cost-audit/internal/domain"
	"github.com/lib/pq"
)

const uploadColumns = `id, account_id, filename, storage_path, file_size, provider, status, tier,
		       stripe_payment_intent_id, loom_video_url, consultant_notes, savings_estimate,
		       failure_reason, created_at, updated_at`

// PostgresUploadRepository stores uploads in the uploads table.
type PostgresUploadRepository struct {
	db *sql.DB
}

// NewPostgresUploadRepository returns a repository over db.
func NewPostgresUploadRepository(db *sql.DB) *PostgresUploadRepository {
	return &PostgresUploadRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUpload(s rowScanner) (*domain.Upload, error) {
	var u domain.Upload
	var paymentIntent, loomURL, notes, failure sql.NullString
	var savings sql.NullFloat64

	err := s.Scan(
		&u.ID,
		&u.AccountID,
		&u.Filename,
		&u.StoragePath,
		&u.FileSize,
		&u.Provider,
		&u.Status,
		&u.Tier,
		&paymentIntent,
		&loomURL,
		&notes,
		&savings,
		&failure,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.StripePaymentIntentID = paymentIntent.String
	u.LoomVideoURL = loomURL.String
	u.ConsultantNotes = notes.String
	u.FailureReason = failure.String
	if savings.Valid {
		v := savings.Float64
		u.SavingsEstimate = &v
	}
	return &u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func (r *PostgresUploadRepository) Create(ctx context.Context, u *domain.Upload) error {
	query := `
		INSERT INTO uploads (` + uploadColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := r.db.ExecContext(ctx, query,
		u.ID,
		u.AccountID,
		u.Filename,
		u.StoragePath,
		u.FileSize,
		u.Provider,
		u.Status,
		u.Tier,
		nullString(u.StripePaymentIntentID),
		nullString(u.LoomVideoURL),
		nullString(u.ConsultantNotes),
		nullFloat(u.SavingsEstimate),
		nullString(u.FailureReason),
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}

	return nil
}

func (r *PostgresUploadRepository) GetByID(ctx context.Context, id string) (*domain.Upload, error) {
	query := `SELECT ` + uploadColumns + ` FROM uploads WHERE id = $1`

	u, err := scanUpload(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUploadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query upload: %w", err)
	}
	return u, nil
}

func (r *PostgresUploadRepository) ListByAccount(ctx context.Context, accountID string) ([]*domain.Upload, error) {
	query := `SELECT ` + uploadColumns + ` FROM uploads WHERE account_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, accountID)
}

func (r *PostgresUploadRepository) ListByTier(ctx context.Context, tier domain.UploadTier) ([]*domain.Upload, error) {
	query := `SELECT ` + uploadColumns + ` FROM uploads WHERE tier = $1 ORDER BY created_at ASC`
	return r.list(ctx, query, tier)
}

func (r *PostgresUploadRepository) list(ctx context.Context, query string, arg any) ([]*domain.Upload, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query uploads: %w", err)
	}
	defer rows.Close()

	var uploads []*domain.Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		uploads = append(uploads, u)
	}

	return uploads, rows.Err()
}

func (r *PostgresUploadRepository) Update(ctx context.Context, u *domain.Upload) error {
	query := `
		UPDATE uploads
		SET storage_path = $2, status = $3, tier = $4, stripe_payment_intent_id = $5,
		    loom_video_url = $6, consultant_notes = $7, savings_estimate = $8,
		    failure_reason = $9, updated_at = $10
		WHERE id = $1
	`

	u.UpdatedAt = time.Now()
	result, err := r.db.ExecContext(ctx, query,
		u.ID,
		u.StoragePath,
		u.Status,
		u.Tier,
		nullString(u.StripePaymentIntentID),
		nullString(u.LoomVideoURL),
		nullString(u.ConsultantNotes),
		nullFloat(u.SavingsEstimate),
		nullString(u.FailureReason),
		u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update upload: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrUploadNotFound
	}

	return nil
}

// PostgresAnalysisRepository stores reports as JSONB, one row per upload.
type PostgresAnalysisRepository struct {
	db *sql.DB
}

// NewPostgresAnalysisRepository returns a repository over db.
func NewPostgresAnalysisRepository(db *sql.DB) *PostgresAnalysisRepository {
	return &PostgresAnalysisRepository{db: db}
}

// Save inserts or replaces the analysis of an upload.
func (r *PostgresAnalysisRepository) Save(ctx context.Context, a *domain.Analysis) error {
	report, err := json.Marshal(a.Report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	var score sql.NullInt64
	var grade sql.NullString
	if a.Report.Score != nil {
		score = sql.NullInt64{Int64: int64(a.Report.Score.Score), Valid: true}
		grade = nullString(string(a.Report.Score.Grade))
	}

	query := `
		INSERT INTO analyses (upload_id, total_spend, total_requests, efficiency_score, grade, report, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (upload_id) DO UPDATE
		SET total_spend = EXCLUDED.total_spend, total_requests = EXCLUDED.total_requests,
		    efficiency_score = EXCLUDED.efficiency_score, grade = EXCLUDED.grade,
		    report = EXCLUDED.report, created_at = EXCLUDED.created_at
	`

	_, err = r.db.ExecContext(ctx, query,
		a.UploadID,
		a.Report.Result.TotalSpend,
		a.Report.Result.TotalRequests,
		score,
		grade,
		report,
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert analysis: %w", err)
	}

	return nil
}

func (r *PostgresAnalysisRepository) Get(ctx context.Context, uploadID string) (*domain.Analysis, error) {
	query := `SELECT upload_id, report, created_at FROM analyses WHERE upload_id = $1`

	var a domain.Analysis
	var report []byte
	err := r.db.QueryRowContext(ctx, query, uploadID).Scan(&a.UploadID, &report, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAnalysisNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query analysis: %w", err)
	}

	if err := json.Unmarshal(report, &a.Report); err != nil {
		return nil, fmt.Errorf("unmarshal report: %w", err)
	}
	return &a, nil
}

// PostgresDeliverableRepository stores concierge deliverables.
type PostgresDeliverableRepository struct {
	db *sql.DB
}

// NewPostgresDeliverableRepository returns a repository over db.
func NewPostgresDeliverableRepository(db *sql.DB) *PostgresDeliverableRepository {
	return &PostgresDeliverableRepository{db: db}
}

func (r *PostgresDeliverableRepository) Create(ctx context.Context, d *domain.Deliverable) error {
	snippets, err := json.Marshal(d.CodeSnippets)
	if err != nil {
		return fmt.Errorf("marshal code snippets: %w", err)
	}

	var snippetTitles []string
	for _, s := range d.CodeSnippets {
		snippetTitles = append(snippetTitles, s.Title)
	}

	query := `
		INSERT INTO deliverables (id, upload_id, consultant_id, loom_video_url, written_report,
		                          code_snippets, snippet_titles, top_savings, delivered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.ExecContext(ctx, query,
		d.ID,
		d.UploadID,
		nullString(d.ConsultantID),
		d.LoomVideoURL,
		nullString(d.WrittenReport),
		snippets,
		pq.Array(snippetTitles),
		nullFloat(d.TopSavings),
		d.DeliveredAt,
	)
	if err != nil {
		return fmt.Errorf("insert deliverable: %w", err)
	}

	return nil
}

func (r *PostgresDeliverableRepository) GetByUpload(ctx context.Context, uploadID string) (*domain.Deliverable, error) {
	query := `
		SELECT id, upload_id, consultant_id, loom_video_url, written_report, code_snippets, top_savings, delivered_at
		FROM deliverables
		WHERE upload_id = $1
		ORDER BY delivered_at DESC
		LIMIT 1
	`

	var d domain.Deliverable
	var consultant, report sql.NullString
	var snippets []byte
	var savings sql.NullFloat64

	err := r.db.QueryRowContext(ctx, query, uploadID).Scan(
		&d.ID,
		&d.UploadID,
		&consultant,
		&d.LoomVideoURL,
		&report,
		&snippets,
		&savings,
		&d.DeliveredAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrDeliverableNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query deliverable: %w", err)
	}

	d.ConsultantID = consultant.String
	d.WrittenReport = report.String
	if savings.Valid {
		v := savings.Float64
		d.TopSavings = &v
	}
	if len(snippets) > 0 {
		if err := json.Unmarshal(snippets, &d.CodeSnippets); err != nil {
			return nil, fmt.Errorf("unmarshal code snippets: %w", err)
		}
	}
	return &d, nil
}
