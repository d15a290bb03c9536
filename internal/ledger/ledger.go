// Package ledger is the append-only record of metered usage. Every
// completed request against a pooled credential is written here exactly
// once, with credit normalised to four decimal places, and read back
// through the aggregate report queries. A process-local set of atomic
// counters mirrors the stream for cheap live dashboards.
package ledger

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/antihubdev/credbroker/internal/fault"
	"github.com/antihubdev/credbroker/internal/store"
	"github.com/antihubdev/credbroker/internal/tracing"
)

// Ledger records consumption events and serves the aggregate reports.
type Ledger struct {
	store   *store.Store
	logger  zerolog.Logger
	counter *collector
}

// New creates a Ledger over the given store.
func New(st *store.Store, logger zerolog.Logger) *Ledger {
	return &Ledger{
		store:   st,
		logger:  logger,
		counter: newCollector(),
	}
}

// Event is one finished request to be recorded. Optional fields are
// pointers; nil means absent. Credit is rounded to four decimal places
// before persisting.
type Event struct {
	UserID       string
	AccountID    string
	APIKeyID     *int64
	ModelID      string
	Credit       decimal.Decimal
	IsShared     int
	Endpoint     *string
	Method       string
	DurationMs   int64
	Success      *bool // nil defaults to true
	StatusCode   *int
	ErrorMessage *string
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	Stream       bool
}

// APIKeyReport is the composite per-key usage report: overall totals
// plus per-model, per-endpoint, hourly and recent-request views over
// the same record set and date range.
type APIKeyReport struct {
	Totals     *store.APIKeyTotals
	ByModel    []*store.APIKeyModelStats
	ByEndpoint []*store.APIKeyEndpointStats
	Hourly     []*store.HourlyModelPoint
	Recent     []*store.ConsumptionRecord
}

// Record validates and appends one consumption event. The write is a
// single insert; failures surface to the caller and nothing is retried
// here. The returned record carries the assigned log id and timestamp.
func (l *Ledger) Record(ctx context.Context, ev Event) (*store.ConsumptionRecord, error) {
	ctx, span := tracing.StartLedgerSpan(ctx, "record")
	defer span.End()

	if ev.UserID == "" {
		return nil, fault.Validationf("user_id", "required")
	}
	if ev.AccountID == "" {
		return nil, fault.Validationf("account_id", "required")
	}
	if ev.ModelID == "" {
		return nil, fault.Validationf("model_id", "required")
	}
	if ev.Credit.IsNegative() {
		return nil, fault.Validationf("credit_used", "must not be negative, got %s", ev.Credit)
	}
	if ev.IsShared != 0 && ev.IsShared != 1 {
		return nil, fault.Validationf("is_shared", "must be 0 or 1, got %d", ev.IsShared)
	}

	credit, _ := ev.Credit.Round(4).Float64()

	method := ev.Method
	if method == "" {
		method = "POST"
	}
	success := true
	if ev.Success != nil {
		success = *ev.Success
	}

	rec := &store.ConsumptionRecord{
		UserID:       ev.UserID,
		AccountID:    ev.AccountID,
		APIKeyID:     ev.APIKeyID,
		ModelID:      ev.ModelID,
		CreditUsed:   credit,
		IsShared:     ev.IsShared,
		Endpoint:     ev.Endpoint,
		Method:       method,
		DurationMs:   ev.DurationMs,
		Success:      success,
		StatusCode:   ev.StatusCode,
		ErrorMessage: ev.ErrorMessage,
		InputTokens:  ev.InputTokens,
		OutputTokens: ev.OutputTokens,
		TotalTokens:  ev.TotalTokens,
		Stream:       ev.Stream,
	}
	inserted, err := l.store.InsertConsumption(ctx, rec)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	l.counter.record(success, ev.IsShared == 1, ev.InputTokens, ev.OutputTokens, credit)
	tracing.SetConsumptionAttributes(ctx, ev.ModelID, credit, success)
	l.logger.Debug().
		Str("log_id", inserted.LogID).
		Str("user_id", ev.UserID).
		Str("model_id", ev.ModelID).
		Float64("credit_used", credit).
		Msg("consumption recorded")
	return inserted, nil
}

// ForUser returns the user's records newest-first. The page size
// defaults to 50 and is capped at 500.
func (l *Ledger) ForUser(ctx context.Context, userID string, limit, offset int) ([]*store.UserConsumptionRow, error) {
	ctx, span := tracing.StartLedgerSpan(ctx, "for_user")
	defer span.End()

	if userID == "" {
		return nil, fault.Validationf("user_id", "required")
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	return l.store.ListUserConsumption(ctx, userID, limit, offset)
}

// StatsForAccount groups one account's consumption by model within the
// optional inclusive date range.
func (l *Ledger) StatsForAccount(ctx context.Context, accountID string, start, end *string) ([]*store.ModelCreditStats, error) {
	ctx, span := tracing.StartLedgerSpan(ctx, "stats_for_account")
	defer span.End()

	if accountID == "" {
		return nil, fault.Validationf("account_id", "required")
	}
	return l.store.AccountModelStats(ctx, accountID, start, end)
}

// TotalsForUser returns the single-row summary of the user's spend,
// split into shared and private credit.
func (l *Ledger) TotalsForUser(ctx context.Context, userID string, start, end *string) (*store.UserTotals, error) {
	ctx, span := tracing.StartLedgerSpan(ctx, "totals_for_user")
	defer span.End()

	if userID == "" {
		return nil, fault.Validationf("user_id", "required")
	}
	return l.store.UserConsumptionTotals(ctx, userID, start, end)
}

// StatsForAPIKey builds the composite per-key report. The five views
// are separate reads over the live table, so a write landing between
// them can make the views differ slightly; each view is internally
// consistent.
func (l *Ledger) StatsForAPIKey(ctx context.Context, apiKeyID int64, start, end *string) (*APIKeyReport, error) {
	ctx, span := tracing.StartLedgerSpan(ctx, "stats_for_api_key")
	defer span.End()

	totals, err := l.store.APIKeyConsumptionTotals(ctx, apiKeyID, start, end)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	byModel, err := l.store.APIKeyModelBreakdown(ctx, apiKeyID, start, end)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	byEndpoint, err := l.store.APIKeyEndpointBreakdown(ctx, apiKeyID, start, end)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	hourly, err := l.store.APIKeyHourlySeries(ctx, apiKeyID, start, end)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	recent, err := l.store.APIKeyRecentRequests(ctx, apiKeyID, start, end, 10)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	return &APIKeyReport{
		Totals:     totals,
		ByModel:    byModel,
		ByEndpoint: byEndpoint,
		Hourly:     hourly,
		Recent:     recent,
	}, nil
}

// Live returns the in-memory counters accumulated since process start.
func (l *Ledger) Live() *LiveStats {
	return l.counter.snapshot()
}
