package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"brokerdesk/internal/creditcheck/models"
	id "brokerdesk/pkg/domain"
	dErrors "brokerdesk/pkg/domain-errors"
	"brokerdesk/pkg/platform/sentinel"
)

// PostgresStore persists credit checks in PostgreSQL. Terminal transitions are
// a single conditional UPDATE so concurrent callbacks for the same id race on
// the row, not in application code.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed credit check store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const creditCheckColumns = `id, client_id, broker_id, profile_id, status, requested_at, completed_at,
	score, records, provider, raw_response, error_message`

func (s *PostgresStore) Create(ctx context.Context, req *models.CreditCheckRequest) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO credit_checks (client_id, broker_id, profile_id, status, requested_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, uuid.UUID(req.ClientID), uuid.UUID(req.BrokerID), uuid.UUID(req.ProfileID), string(req.Status), req.RequestedAt).Scan(&req.ID)
	if err != nil {
		return fmt.Errorf("insert credit check: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, checkID int64) (*models.CreditCheckRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+creditCheckColumns+` FROM credit_checks WHERE id = $1`, checkID)
	r, err := scanCreditCheck(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find credit check: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListByBroker(ctx context.Context, broker id.UserID, filter models.ListFilter) ([]*models.CreditCheckRequest, int, error) {
	filter = filter.Normalize()

	var statuses []string
	for _, st := range filter.Statuses {
		statuses = append(statuses, string(st))
	}
	var clientID any
	if filter.ClientID != nil {
		clientID = uuid.UUID(*filter.ClientID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+creditCheckColumns+`, COUNT(*) OVER () AS total
		FROM credit_checks
		WHERE broker_id = $1
		  AND ($2::text[] IS NULL OR status = ANY($2::text[]))
		  AND ($3::uuid IS NULL OR client_id = $3::uuid)
		ORDER BY requested_at DESC, id DESC
		LIMIT $4 OFFSET $5
	`, uuid.UUID(broker), pq.Array(statuses), clientID, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list credit checks: %w", err)
	}
	defer rows.Close()

	out := make([]*models.CreditCheckRequest, 0)
	total := 0
	for rows.Next() {
		r, err := scanCreditCheck(rows, &total)
		if err != nil {
			return nil, 0, fmt.Errorf("scan credit check: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate credit checks: %w", err)
	}
	if len(out) == 0 && filter.Offset > 0 {
		// the window function yields nothing past the last page
		if err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM credit_checks
			WHERE broker_id = $1
			  AND ($2::text[] IS NULL OR status = ANY($2::text[]))
			  AND ($3::uuid IS NULL OR client_id = $3::uuid)
		`, uuid.UUID(broker), pq.Array(statuses), clientID).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count credit checks: %w", err)
		}
	}
	return out, total, nil
}

func (s *PostgresStore) CompleteIfPending(ctx context.Context, checkID int64, outcome models.Outcome, now time.Time) (*models.CreditCheckRequest, error) {
	// Run the transition on a scratch row so field rules live in one place.
	next := &models.CreditCheckRequest{ID: checkID, Status: models.StatusPending}
	if err := next.Apply(outcome, now); err != nil {
		return nil, fmt.Errorf("apply outcome: %w", errors.Join(sentinel.ErrInvalidState, err))
	}

	records, err := json.Marshal(nonNilRecords(next.Records))
	if err != nil {
		return nil, fmt.Errorf("marshal records: %w", err)
	}
	var raw any
	if len(next.RawResponse) > 0 {
		raw = []byte(next.RawResponse)
	}
	var score any
	if next.Score != nil {
		score = *next.Score
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE credit_checks
		SET status = $2, completed_at = $3, score = $4,
		    has_protests = $5, has_adverse_filings = $6, has_insolvency = $7,
		    records = $8, provider = $9, raw_response = $10, error_message = $11
		WHERE id = $1 AND status = 'pending'
		RETURNING `+creditCheckColumns,
		checkID, string(next.Status), next.CompletedAt, score,
		next.Flags.Protests, next.Flags.AdverseFilings, next.Flags.InsolvencyProceeding,
		records, next.Provider, raw, next.ErrorMessage,
	)
	updated, err := scanCreditCheck(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("complete credit check: %w", err)
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM credit_checks WHERE id = $1)`, checkID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check credit check existence: %w", err)
	}
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	return nil, sentinel.ErrConflict
}

func (s *PostgresStore) Delete(ctx context.Context, checkID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM credit_checks WHERE id = $1`, checkID)
	if err != nil {
		return fmt.Errorf("delete credit check: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete credit check: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*models.CreditCheckRequest, error) {
	if limit <= 0 {
		limit = models.MaxListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+creditCheckColumns+`
		FROM credit_checks
		WHERE status = 'pending' AND requested_at < $1
		ORDER BY requested_at, id
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending: %w", err)
	}
	defer rows.Close()

	out := make([]*models.CreditCheckRequest, 0)
	for rows.Next() {
		r, err := scanCreditCheck(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credit check: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCreditCheck(row rowScanner, extra ...any) (*models.CreditCheckRequest, error) {
	var (
		r                  models.CreditCheckRequest
		clientID, brokerID uuid.UUID
		profileID          uuid.UUID
		status             string
		completedAt        sql.NullTime
		score              sql.NullInt64
		records, rawResp   []byte
	)
	dest := []any{&r.ID, &clientID, &brokerID, &profileID, &status, &r.RequestedAt, &completedAt,
		&score, &records, &r.Provider, &rawResp, &r.ErrorMessage}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	r.ClientID = id.ClientID(clientID)
	r.BrokerID = id.UserID(brokerID)
	r.ProfileID = id.ProfileID(profileID)
	r.Status = models.Status(status)
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	if score.Valid {
		v := int(score.Int64)
		r.Score = &v
	}
	if len(records) > 0 {
		if err := json.Unmarshal(records, &r.Records); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "decode credit check records")
		}
		if len(r.Records) == 0 {
			r.Records = nil
		}
	}
	r.Flags = models.FlagsFromRecords(r.Records)
	if len(rawResp) > 0 {
		r.RawResponse = json.RawMessage(rawResp)
	}
	return &r, nil
}

func nonNilRecords(rs []models.AdverseRecord) []models.AdverseRecord {
	if rs == nil {
		return []models.AdverseRecord{}
	}
	return rs
}
