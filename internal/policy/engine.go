// Package policy decides which models a subscription tier may use. The
// rule table is small and read-heavy, so the engine keeps a whole-table
// snapshot in memory and reloads it at most once per TTL. A tier with no
// configured rule permits every model; a tier configured with an empty
// set permits none. The two cases are deliberately distinct.
package policy

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/antihubdev/credbroker/internal/fault"
	"github.com/antihubdev/credbroker/internal/store"
	"github.com/antihubdev/credbroker/internal/tracing"
)

// DefaultCacheTTL bounds how stale a permit decision can be after a rule
// change made by another process.
const DefaultCacheTTL = 60 * time.Second

// Engine answers model-access questions for subscription tiers.
type Engine struct {
	store  *store.Store
	logger zerolog.Logger
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	rules    map[string][]string // normalized tier -> allowed set; key absent means unconfigured
	loadedAt time.Time
	gen      uint64 // bumped on invalidation; guards against installing a reload that predates it
}

// Options configures an Engine. Zero values fall back to defaults.
type Options struct {
	// CacheTTL overrides DefaultCacheTTL.
	CacheTTL time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewEngine creates an Engine over the given store.
func NewEngine(st *store.Store, logger zerolog.Logger, opts Options) *Engine {
	e := &Engine{
		store:  st,
		logger: logger,
		ttl:    opts.CacheTTL,
		now:    opts.Now,
	}
	if e.ttl == 0 {
		e.ttl = DefaultCacheTTL
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// TierModels is one tier in the administrative listing. ModelIDs is nil
// for tiers seen on accounts but never configured, and non-nil (possibly
// empty) for configured tiers.
type TierModels struct {
	Subscription string
	ModelIDs     []string
}

// Normalize canonicalises a tier label: surrounding whitespace is
// stripped, internal runs of whitespace collapse to one space, and the
// result is uppercased. Labels differing only in case or spacing are the
// same tier.
func Normalize(label string) string {
	return strings.ToUpper(strings.Join(strings.Fields(label), " "))
}

// IsModelAllowed reports whether the tier may use the model. An empty
// model id or blank tier permits, as does a tier with no configured
// rule. Only a configured rule that omits the model denies.
func (e *Engine) IsModelAllowed(ctx context.Context, tier, modelID string) (bool, error) {
	ctx, span := tracing.StartPolicySpan(ctx, "is_model_allowed")
	defer span.End()

	if modelID == "" {
		return true, nil
	}
	key := Normalize(tier)
	if key == "" {
		return true, nil
	}

	rules, err := e.snapshot(ctx)
	if err != nil {
		tracing.RecordError(ctx, err)
		return false, err
	}
	allowed, configured := rules[key]
	if !configured {
		return true, nil
	}
	for _, id := range allowed {
		if id == modelID {
			return true, nil
		}
	}
	return false, nil
}

// FilterAccountsByModel returns the subset of accounts whose tier may
// use the model, preserving the input order. Every account is judged
// against the same snapshot.
func (e *Engine) FilterAccountsByModel(ctx context.Context, accounts []*store.Account, modelID string) ([]*store.Account, error) {
	ctx, span := tracing.StartPolicySpan(ctx, "filter_accounts")
	defer span.End()

	if modelID == "" {
		return accounts, nil
	}
	rules, err := e.snapshot(ctx)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	var out []*store.Account
	for _, a := range accounts {
		key := Normalize(a.Subscription)
		if key == "" {
			out = append(out, a)
			continue
		}
		allowed, configured := rules[key]
		if !configured {
			out = append(out, a)
			continue
		}
		for _, id := range allowed {
			if id == modelID {
				out = append(out, a)
				break
			}
		}
	}
	return out, nil
}

// ListAllTiers unions the tiers configured in the rule table with the
// tiers present on accounts, sorted by label. Configured tiers carry
// their allowed set; unconfigured ones carry nil.
func (e *Engine) ListAllTiers(ctx context.Context) ([]*TierModels, error) {
	ctx, span := tracing.StartPolicySpan(ctx, "list_all_tiers")
	defer span.End()

	rules, err := e.store.ListRules(ctx)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	subs, err := e.store.DistinctSubscriptions(ctx)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	byTier := make(map[string]*TierModels)
	for _, r := range rules {
		key := Normalize(r.Subscription)
		ids := r.AllowedModelIDs
		if ids == nil {
			ids = []string{}
		}
		byTier[key] = &TierModels{Subscription: key, ModelIDs: ids}
	}
	for _, s := range subs {
		key := Normalize(s)
		if key == "" {
			continue
		}
		if _, ok := byTier[key]; !ok {
			byTier[key] = &TierModels{Subscription: key}
		}
	}

	out := make([]*TierModels, 0, len(byTier))
	for _, t := range byTier {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subscription < out[j].Subscription })
	return out, nil
}

// UpsertRule writes the allowed set for a tier and invalidates the
// snapshot so the next read sees the change. A nil set deletes the rule,
// returning the tier to unconfigured; an empty set is a rule that
// permits nothing. Model ids are trimmed, de-duplicated and kept in
// first-seen order.
func (e *Engine) UpsertRule(ctx context.Context, tier string, modelIDs []string) (*store.SubscriptionRule, error) {
	ctx, span := tracing.StartPolicySpan(ctx, "upsert_rule")
	defer span.End()

	key := Normalize(tier)
	if key == "" {
		return nil, fault.Validationf("subscription", "required")
	}

	if modelIDs == nil {
		if _, err := e.store.DeleteRule(ctx, key); err != nil {
			tracing.RecordError(ctx, err)
			return nil, err
		}
		e.invalidate()
		e.logger.Info().Str("subscription", key).Msg("rule cleared")
		return nil, nil
	}

	seen := make(map[string]struct{}, len(modelIDs))
	cleaned := make([]string, 0, len(modelIDs))
	for _, id := range modelIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		cleaned = append(cleaned, id)
	}

	rule, err := e.store.UpsertRule(ctx, key, cleaned)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	e.invalidate()
	e.logger.Info().
		Str("subscription", key).
		Int("model_count", len(cleaned)).
		Msg("rule updated")
	return rule, nil
}

// DeleteRule removes the tier's rule and invalidates the snapshot. It
// reports whether a rule actually existed.
func (e *Engine) DeleteRule(ctx context.Context, tier string) (bool, error) {
	ctx, span := tracing.StartPolicySpan(ctx, "delete_rule")
	defer span.End()

	key := Normalize(tier)
	if key == "" {
		return false, fault.Validationf("subscription", "required")
	}
	n, err := e.store.DeleteRule(ctx, key)
	if err != nil {
		tracing.RecordError(ctx, err)
		return false, err
	}
	e.invalidate()
	if n > 0 {
		e.logger.Info().Str("subscription", key).Msg("rule deleted")
	}
	return n > 0, nil
}

// Invalidate discards the snapshot so the next decision reloads from the
// store. Call it after out-of-band rule changes.
func (e *Engine) Invalidate() {
	e.invalidate()
}

func (e *Engine) invalidate() {
	e.mu.Lock()
	e.rules = nil
	e.gen++
	e.mu.Unlock()
}

// snapshot returns the current rule map, reloading the whole table when
// the cached copy is older than the TTL or has been invalidated. The
// lock is released for the duration of the reload so fresh-snapshot
// readers never wait on the store; a reload that raced an invalidation
// is returned to its caller but not installed, keeping rule writes
// immediately visible to every later decision.
func (e *Engine) snapshot(ctx context.Context) (map[string][]string, error) {
	e.mu.Lock()
	if e.rules != nil && e.now().Sub(e.loadedAt) < e.ttl {
		rules := e.rules
		e.mu.Unlock()
		return rules, nil
	}
	gen := e.gen
	stale := e.rules
	e.mu.Unlock()

	rows, err := e.store.ListRules(ctx)
	if err != nil {
		// Serve the stale snapshot if there is one rather than failing
		// every decision during a transient store error.
		if stale != nil {
			e.logger.Warn().Err(err).Msg("rule reload failed, serving stale snapshot")
			return stale, nil
		}
		return nil, err
	}

	rules := make(map[string][]string, len(rows))
	for _, r := range rows {
		ids := r.AllowedModelIDs
		if ids == nil {
			ids = []string{}
		}
		rules[Normalize(r.Subscription)] = ids
	}

	e.mu.Lock()
	if e.gen == gen {
		e.rules = rules
		e.loadedAt = e.now()
	}
	e.mu.Unlock()
	return rules, nil
}
