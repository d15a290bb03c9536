package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// SubscriptionRule maps a tier label to its allowed model set. The
// allowed set is stored as a JSON array; an empty array is a valid,
// configured rule that permits nothing.
type SubscriptionRule struct {
	Subscription    string
	AllowedModelIDs []string
	CreatedAt       string
	UpdatedAt       string
}

// ListRules returns every configured rule with its allowed set decoded.
// Malformed stored arrays decode to an empty set rather than failing the
// whole read.
func (s *Store) ListRules(ctx context.Context) ([]*SubscriptionRule, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT subscription, allowed_model_ids, created_at, updated_at
		FROM subscription_models`)
	if err != nil {
		return nil, fmt.Errorf("store: list rules: %w", err)
	}
	defer rows.Close()

	var results []*SubscriptionRule
	for rows.Next() {
		r := &SubscriptionRule{}
		var raw string
		if err := rows.Scan(&r.Subscription, &raw, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan rule row: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &r.AllowedModelIDs); err != nil || r.AllowedModelIDs == nil {
			r.AllowedModelIDs = []string{}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: rule rows: %w", err)
	}
	return results, nil
}

// UpsertRule writes the allowed set for a tier, inserting or replacing
// in place. The caller is responsible for normalizing the tier label and
// the model ids.
func (s *Store) UpsertRule(ctx context.Context, subscription string, modelIDs []string) (*SubscriptionRule, error) {
	if modelIDs == nil {
		modelIDs = []string{}
	}
	raw, err := json.Marshal(modelIDs)
	if err != nil {
		return nil, fmt.Errorf("store: marshal rule ids: %w", err)
	}

	now := timestamp()
	_, err = s.writer.ExecContext(ctx, `
		INSERT INTO subscription_models (subscription, allowed_model_ids, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (subscription)
		DO UPDATE SET allowed_model_ids = excluded.allowed_model_ids, updated_at = excluded.updated_at`,
		subscription, string(raw), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("store: upsert rule: %w", err)
	}

	r := &SubscriptionRule{}
	var rawOut string
	err = s.writer.QueryRowContext(ctx, `
		SELECT subscription, allowed_model_ids, created_at, updated_at
		FROM subscription_models WHERE subscription = ?`, subscription,
	).Scan(&r.Subscription, &rawOut, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: read back rule: %w", err)
	}
	if err := json.Unmarshal([]byte(rawOut), &r.AllowedModelIDs); err != nil || r.AllowedModelIDs == nil {
		r.AllowedModelIDs = []string{}
	}
	return r, nil
}

// DeleteRule removes the rule row for a tier, reporting how many rows
// were actually removed.
func (s *Store) DeleteRule(ctx context.Context, subscription string) (int64, error) {
	result, err := s.writer.ExecContext(ctx,
		`DELETE FROM subscription_models WHERE subscription = ?`, subscription)
	if err != nil {
		return 0, fmt.Errorf("store: delete rule: %w", err)
	}
	return result.RowsAffected()
}
