package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// ConsumptionRecord is one append-only usage row. Rows are inserted once
// and never updated or deleted; corrections are new compensating records.
type ConsumptionRecord struct {
	LogID        string
	UserID       string
	AccountID    string
	APIKeyID     *int64
	ModelID      string
	CreditUsed   float64
	IsShared     int
	Endpoint     *string
	Method       string
	DurationMs   int64
	Success      bool
	StatusCode   *int
	ErrorMessage *string
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	Stream       bool
	ConsumedAt   string
}

// UserConsumptionRow is a ledger row joined with the account display name.
type UserConsumptionRow struct {
	LogID       string
	AccountID   string
	ModelID     string
	CreditUsed  float64
	IsShared    int
	ConsumedAt  string
	AccountName *string
}

// ModelCreditStats aggregates credit per model for one account.
type ModelCreditStats struct {
	ModelID      string
	RequestCount int64
	TotalCredit  float64
	AvgCredit    float64
	MinCredit    float64
	MaxCredit    float64
}

// UserTotals is the single-row consumption summary for a user.
type UserTotals struct {
	TotalRequests int64
	TotalCredit   float64
	AvgCredit     float64
	SharedCredit  float64
	PrivateCredit float64
}

// APIKeyTotals holds the overall totals of the per-key report.
type APIKeyTotals struct {
	TotalRequests int64
	SuccessCount  int64
	FailedCount   int64
	InputTokens   int64
	OutputTokens  int64
	TotalTokens   int64
	TotalCredit   float64
	AvgDurationMs float64
}

// APIKeyModelStats is one row of the per-model breakdown of the key report.
type APIKeyModelStats struct {
	ModelID       string
	TotalRequests int64
	SuccessCount  int64
	FailedCount   int64
	TotalTokens   int64
	TotalCredit   float64
}

// APIKeyEndpointStats is one row of the per-endpoint breakdown.
type APIKeyEndpointStats struct {
	Endpoint      string
	TotalRequests int64
	SuccessCount  int64
	FailedCount   int64
	InputTokens   int64
	OutputTokens  int64
	TotalTokens   int64
	TotalCredit   float64
	AvgDurationMs float64
}

// HourlyModelPoint is one (hour, model) bucket of the time series.
type HourlyModelPoint struct {
	Hour         string
	ModelID      string
	CreditUsed   float64
	RequestCount int64
}

// dateRange appends inclusive consumed_at bounds to a query. Both bounds
// are optional and independent.
func dateRange(query string, args []any, start, end *string) (string, []any) {
	if start != nil {
		query += ` AND consumed_at >= ?`
		args = append(args, *start)
	}
	if end != nil {
		query += ` AND consumed_at <= ?`
		args = append(args, *end)
	}
	return query, args
}

// InsertConsumption appends a usage record. The log_id and consumed_at
// are assigned here and returned on the record; there is no update or
// delete path for this table.
func (s *Store) InsertConsumption(ctx context.Context, r *ConsumptionRecord) (*ConsumptionRecord, error) {
	r.LogID = uuid.NewString()
	r.ConsumedAt = timestamp()

	success := 0
	if r.Success {
		success = 1
	}
	stream := 0
	if r.Stream {
		stream = 1
	}

	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO consumption_log (
			log_id, user_id, account_id, api_key_id, model_id, credit_used,
			is_shared, endpoint, method, duration_ms, success, status_code,
			error_message, input_tokens, output_tokens, total_tokens, stream,
			consumed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.LogID, r.UserID, r.AccountID, r.APIKeyID, r.ModelID, r.CreditUsed,
		r.IsShared, r.Endpoint, r.Method, r.DurationMs, success, r.StatusCode,
		r.ErrorMessage, r.InputTokens, r.OutputTokens, r.TotalTokens, stream,
		r.ConsumedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("store: insert consumption: %w", err)
	}
	return r, nil
}

// ListUserConsumption returns the user's records newest-first, joined
// with the account display name, page-bounded.
func (s *Store) ListUserConsumption(ctx context.Context, userID string, limit, offset int) ([]*UserConsumptionRow, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT l.log_id, l.account_id, l.model_id, l.credit_used, l.is_shared,
		       l.consumed_at, a.account_name
		FROM consumption_log l
		LEFT JOIN provider_accounts a ON l.account_id = a.account_id
		WHERE l.user_id = ?
		ORDER BY l.consumed_at DESC
		LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list user consumption: %w", err)
	}
	defer rows.Close()

	var results []*UserConsumptionRow
	for rows.Next() {
		r := &UserConsumptionRow{}
		if err := rows.Scan(&r.LogID, &r.AccountID, &r.ModelID, &r.CreditUsed,
			&r.IsShared, &r.ConsumedAt, &r.AccountName); err != nil {
			return nil, fmt.Errorf("store: scan user consumption row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: user consumption rows: %w", err)
	}
	return results, nil
}

// AccountModelStats groups one account's consumption by model, ordered
// by total credit descending.
func (s *Store) AccountModelStats(ctx context.Context, accountID string, start, end *string) ([]*ModelCreditStats, error) {
	query := `
		SELECT model_id,
		       COUNT(*),
		       COALESCE(SUM(credit_used), 0.0),
		       COALESCE(AVG(credit_used), 0.0),
		       COALESCE(MIN(credit_used), 0.0),
		       COALESCE(MAX(credit_used), 0.0)
		FROM consumption_log
		WHERE account_id = ?`
	args := []any{accountID}
	query, args = dateRange(query, args, start, end)
	query += ` GROUP BY model_id ORDER BY SUM(credit_used) DESC`

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: account model stats: %w", err)
	}
	defer rows.Close()

	var results []*ModelCreditStats
	for rows.Next() {
		m := &ModelCreditStats{}
		if err := rows.Scan(&m.ModelID, &m.RequestCount, &m.TotalCredit,
			&m.AvgCredit, &m.MinCredit, &m.MaxCredit); err != nil {
			return nil, fmt.Errorf("store: scan model stats row: %w", err)
		}
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: model stats rows: %w", err)
	}
	return results, nil
}

// UserConsumptionTotals computes the single-row summary for a user,
// splitting credit into shared and private buckets using the is_shared
// flag captured at write time.
func (s *Store) UserConsumptionTotals(ctx context.Context, userID string, start, end *string) (*UserTotals, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(credit_used), 0.0),
		       COALESCE(AVG(credit_used), 0.0),
		       COALESCE(SUM(CASE WHEN is_shared = 1 THEN credit_used ELSE 0 END), 0.0),
		       COALESCE(SUM(CASE WHEN is_shared = 0 THEN credit_used ELSE 0 END), 0.0)
		FROM consumption_log
		WHERE user_id = ?`
	args := []any{userID}
	query, args = dateRange(query, args, start, end)

	t := &UserTotals{}
	err := s.reader.QueryRowContext(ctx, query, args...).Scan(
		&t.TotalRequests, &t.TotalCredit, &t.AvgCredit, &t.SharedCredit, &t.PrivateCredit,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return t, nil
		}
		return nil, fmt.Errorf("store: user consumption totals: %w", err)
	}
	return t, nil
}

// APIKeyConsumptionTotals computes the overall totals of the per-key report.
func (s *Store) APIKeyConsumptionTotals(ctx context.Context, apiKeyID int64, start, end *string) (*APIKeyTotals, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(input_tokens), 0),
		       COALESCE(SUM(output_tokens), 0),
		       COALESCE(SUM(total_tokens), 0),
		       COALESCE(SUM(credit_used), 0.0),
		       COALESCE(AVG(duration_ms), 0.0)
		FROM consumption_log
		WHERE api_key_id = ?`
	args := []any{apiKeyID}
	query, args = dateRange(query, args, start, end)

	t := &APIKeyTotals{}
	err := s.reader.QueryRowContext(ctx, query, args...).Scan(
		&t.TotalRequests, &t.SuccessCount, &t.FailedCount,
		&t.InputTokens, &t.OutputTokens, &t.TotalTokens,
		&t.TotalCredit, &t.AvgDurationMs,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return t, nil
		}
		return nil, fmt.Errorf("store: api key totals: %w", err)
	}
	return t, nil
}

// APIKeyModelBreakdown groups the key's consumption by model, capped at
// 50 rows ordered by request count descending.
func (s *Store) APIKeyModelBreakdown(ctx context.Context, apiKeyID int64, start, end *string) ([]*APIKeyModelStats, error) {
	query := `
		SELECT model_id,
		       COUNT(*),
		       COALESCE(SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(total_tokens), 0),
		       COALESCE(SUM(credit_used), 0.0)
		FROM consumption_log
		WHERE api_key_id = ?`
	args := []any{apiKeyID}
	query, args = dateRange(query, args, start, end)
	query += ` GROUP BY model_id ORDER BY COUNT(*) DESC LIMIT 50`

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: api key model breakdown: %w", err)
	}
	defer rows.Close()

	var results []*APIKeyModelStats
	for rows.Next() {
		m := &APIKeyModelStats{}
		if err := rows.Scan(&m.ModelID, &m.TotalRequests, &m.SuccessCount,
			&m.FailedCount, &m.TotalTokens, &m.TotalCredit); err != nil {
			return nil, fmt.Errorf("store: scan key model row: %w", err)
		}
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: key model rows: %w", err)
	}
	return results, nil
}

// APIKeyEndpointBreakdown groups the key's consumption by endpoint,
// capped at 100 rows ordered by request count descending. Records
// without an endpoint are excluded.
func (s *Store) APIKeyEndpointBreakdown(ctx context.Context, apiKeyID int64, start, end *string) ([]*APIKeyEndpointStats, error) {
	query := `
		SELECT endpoint,
		       COUNT(*),
		       COALESCE(SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(input_tokens), 0),
		       COALESCE(SUM(output_tokens), 0),
		       COALESCE(SUM(total_tokens), 0),
		       COALESCE(SUM(credit_used), 0.0),
		       COALESCE(AVG(duration_ms), 0.0)
		FROM consumption_log
		WHERE api_key_id = ? AND endpoint IS NOT NULL`
	args := []any{apiKeyID}
	query, args = dateRange(query, args, start, end)
	query += ` GROUP BY endpoint ORDER BY COUNT(*) DESC LIMIT 100`

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: api key endpoint breakdown: %w", err)
	}
	defer rows.Close()

	var results []*APIKeyEndpointStats
	for rows.Next() {
		e := &APIKeyEndpointStats{}
		if err := rows.Scan(&e.Endpoint, &e.TotalRequests, &e.SuccessCount,
			&e.FailedCount, &e.InputTokens, &e.OutputTokens, &e.TotalTokens,
			&e.TotalCredit, &e.AvgDurationMs); err != nil {
			return nil, fmt.Errorf("store: scan key endpoint row: %w", err)
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: key endpoint rows: %w", err)
	}
	return results, nil
}

// APIKeyHourlySeries buckets the key's consumption per (hour, model)
// pair, ascending by hour. Hours are truncated to the start of the hour
// in UTC.
func (s *Store) APIKeyHourlySeries(ctx context.Context, apiKeyID int64, start, end *string) ([]*HourlyModelPoint, error) {
	query := `
		SELECT strftime('%Y-%m-%dT%H:00:00Z', consumed_at) AS hour,
		       model_id,
		       COALESCE(SUM(credit_used), 0.0),
		       COUNT(*)
		FROM consumption_log
		WHERE api_key_id = ?`
	args := []any{apiKeyID}
	query, args = dateRange(query, args, start, end)
	query += ` GROUP BY hour, model_id ORDER BY hour ASC`

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: api key hourly series: %w", err)
	}
	defer rows.Close()

	var results []*HourlyModelPoint
	for rows.Next() {
		p := &HourlyModelPoint{}
		if err := rows.Scan(&p.Hour, &p.ModelID, &p.CreditUsed, &p.RequestCount); err != nil {
			return nil, fmt.Errorf("store: scan hourly row: %w", err)
		}
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: hourly rows: %w", err)
	}
	return results, nil
}

// APIKeyRecentRequests returns the key's most recent individual records,
// strictly by consumed_at descending.
func (s *Store) APIKeyRecentRequests(ctx context.Context, apiKeyID int64, start, end *string, limit int) ([]*ConsumptionRecord, error) {
	query := `
		SELECT log_id, user_id, account_id, api_key_id, model_id, credit_used,
		       is_shared, endpoint, method, duration_ms, success, status_code,
		       error_message, input_tokens, output_tokens, total_tokens, stream,
		       consumed_at
		FROM consumption_log
		WHERE api_key_id = ?`
	args := []any{apiKeyID}
	query, args = dateRange(query, args, start, end)
	query += ` ORDER BY consumed_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: api key recent requests: %w", err)
	}
	defer rows.Close()

	var results []*ConsumptionRecord
	for rows.Next() {
		r := &ConsumptionRecord{}
		var success, stream int
		if err := rows.Scan(&r.LogID, &r.UserID, &r.AccountID, &r.APIKeyID,
			&r.ModelID, &r.CreditUsed, &r.IsShared, &r.Endpoint, &r.Method,
			&r.DurationMs, &success, &r.StatusCode, &r.ErrorMessage,
			&r.InputTokens, &r.OutputTokens, &r.TotalTokens, &stream,
			&r.ConsumedAt); err != nil {
			return nil, fmt.Errorf("store: scan recent request row: %w", err)
		}
		r.Success = success != 0
		r.Stream = stream != 0
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent request rows: %w", err)
	}
	return results, nil
}
