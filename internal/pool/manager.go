// Package pool owns the lifecycle of pooled provider credentials:
// idempotent import with two-key dedup, selection of usable accounts for
// load balancing, token refresh, and the single-row status mutations.
// It supplies eligible candidates only; picking one and retrying across
// the set is the dispatch layer's job.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/antihubdev/credbroker/internal/fault"
	"github.com/antihubdev/credbroker/internal/store"
	"github.com/antihubdev/credbroker/internal/tracing"
	"github.com/antihubdev/credbroker/internal/vault"
)

// DefaultExpiryMargin is subtracted from expires_at when judging token
// expiry, so callers refresh proactively instead of racing the provider's
// own rejection under load.
const DefaultExpiryMargin = 5 * time.Minute

// Manager owns create/update/select/expire logic for provider accounts.
// It performs no retries: validation failures and conflicts go straight
// back to the caller, and store errors propagate unchanged.
type Manager struct {
	store        *store.Store
	cipher       *vault.Cipher // nil means tokens are stored in plaintext
	logger       zerolog.Logger
	resourceURL  string
	expiryMargin time.Duration
	now          func() time.Time
}

// Options configures a Manager. Zero values fall back to defaults.
type Options struct {
	// Cipher, when non-nil, seals access tokens at rest.
	Cipher *vault.Cipher
	// DefaultResourceURL is used when an import carries no resource URL.
	DefaultResourceURL string
	// ExpiryMargin overrides DefaultExpiryMargin.
	ExpiryMargin time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewManager creates a Manager over the given store.
func NewManager(st *store.Store, logger zerolog.Logger, opts Options) *Manager {
	m := &Manager{
		store:        st,
		cipher:       opts.Cipher,
		logger:       logger,
		resourceURL:  opts.DefaultResourceURL,
		expiryMargin: opts.ExpiryMargin,
		now:          opts.Now,
	}
	if m.resourceURL == "" {
		m.resourceURL = "portal.qwen.ai"
	}
	if m.expiryMargin == 0 {
		m.expiryMargin = DefaultExpiryMargin
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// ImportData carries the fields of one credential import. Optional
// fields are pointers; nil means absent.
type ImportData struct {
	OwnerUserID  string
	AccountName  *string
	Subscription string
	IsShared     int
	AccessToken  string
	RefreshToken *string
	ExpiresAt    *int64 // epoch milliseconds
	LastRefresh  *string
	ResourceURL  *string
	Email        *string
}

// TokenData carries the fields of a token refresh. Nil RefreshToken and
// ResourceURL keep the stored value.
type TokenData struct {
	AccessToken  string
	RefreshToken *string
	ExpiresAt    *int64
	LastRefresh  *string
	ResourceURL  *string
}

// trimPtr trims a string pointer, mapping blank results to nil.
func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}

// Import validates and idempotently imports a credential. Resolution
// order: an email match updates that row in place (after checking the
// owner), then a refresh-token match does the same while back-filling
// the email, and otherwise a new enabled row is inserted. A dedup key
// held by a different tenant is a conflict, never an overwrite.
func (m *Manager) Import(ctx context.Context, data ImportData) (*store.Account, error) {
	ctx, span := tracing.StartPoolSpan(ctx, "import")
	defer span.End()

	if strings.TrimSpace(data.OwnerUserID) == "" {
		return nil, fault.Validationf("owner_user_id", "required")
	}
	accessToken := strings.TrimSpace(data.AccessToken)
	if accessToken == "" {
		return nil, fault.Validationf("access_token", "required")
	}
	if data.IsShared != 0 && data.IsShared != 1 {
		return nil, fault.Validationf("is_shared", "must be 0 or 1, got %d", data.IsShared)
	}

	email := trimPtr(data.Email)
	refreshToken := trimPtr(data.RefreshToken)
	resourceURL := m.resourceURL
	if u := trimPtr(data.ResourceURL); u != nil {
		resourceURL = *u
	}

	storedToken, err := m.sealToken(accessToken)
	if err != nil {
		return nil, err
	}

	upd := store.ImportUpdate{
		AccountName:  data.AccountName,
		Subscription: strings.TrimSpace(data.Subscription),
		IsShared:     data.IsShared,
		AccessToken:  storedToken,
		RefreshToken: refreshToken,
		ExpiresAt:    data.ExpiresAt,
		LastRefresh:  data.LastRefresh,
		ResourceURL:  resourceURL,
		Email:        email,
	}

	// 1) Email is the preferred dedup key.
	if email != nil {
		existing, err := m.store.GetAccountByEmail(ctx, *email)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			tracing.RecordError(ctx, err)
			return nil, err
		}
		if existing != nil {
			if existing.OwnerUserID != data.OwnerUserID {
				return nil, &fault.ConflictError{Key: "email", Value: *email}
			}
			if _, err := m.store.UpdateImportedAccount(ctx, existing.AccountID, upd); err != nil {
				tracing.RecordError(ctx, err)
				return nil, err
			}
			m.logger.Info().
				Str("account_id", existing.AccountID).
				Str("owner_user_id", data.OwnerUserID).
				Str("email", *email).
				Msg("account updated by email import")
			return m.get(ctx, existing.AccountID)
		}
	}

	// 2) Refresh token is the secondary dedup key; some exports carry
	// no email at all.
	if refreshToken != nil {
		existing, err := m.store.GetAccountByRefreshToken(ctx, *refreshToken)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			tracing.RecordError(ctx, err)
			return nil, err
		}
		if existing != nil {
			if existing.OwnerUserID != data.OwnerUserID {
				return nil, &fault.ConflictError{Key: "refresh_token"}
			}
			if _, err := m.store.UpdateImportedAccountKeepToken(ctx, existing.AccountID, upd); err != nil {
				tracing.RecordError(ctx, err)
				return nil, err
			}
			m.logger.Info().
				Str("account_id", existing.AccountID).
				Str("owner_user_id", data.OwnerUserID).
				Msg("account updated by refresh token import")
			return m.get(ctx, existing.AccountID)
		}
	}

	// 3) New row.
	account := &store.Account{
		OwnerUserID:  data.OwnerUserID,
		AccountName:  data.AccountName,
		Subscription: upd.Subscription,
		IsShared:     data.IsShared,
		AccessToken:  storedToken,
		RefreshToken: refreshToken,
		ExpiresAt:    data.ExpiresAt,
		LastRefresh:  data.LastRefresh,
		ResourceURL:  resourceURL,
		Email:        email,
		Status:       1,
	}
	inserted, err := m.store.InsertAccount(ctx, account)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	tracing.SetAccountAttributes(ctx, inserted.AccountID, inserted.OwnerUserID, inserted.IsShared == 1)
	m.logger.Info().
		Str("account_id", inserted.AccountID).
		Str("owner_user_id", data.OwnerUserID).
		Msg("account created")
	return m.unseal(inserted)
}

// SelectUsable returns the eligible candidate set for load balancing:
// enabled accounts not flagged for refresh, optionally filtered by the
// shared flag, further narrowed to the given owner unless the filter is
// exactly shared-only. The ordering is oldest-created-first so repeated
// calls with no intervening writes yield the same candidate order.
func (m *Manager) SelectUsable(ctx context.Context, ownerUserID *string, isShared *int) ([]*store.Account, error) {
	ctx, span := tracing.StartPoolSpan(ctx, "select_usable")
	defer span.End()

	owner := ownerUserID
	if isShared != nil && *isShared == 1 {
		// Shared-only selection spans all tenants.
		owner = nil
	}
	accounts, err := m.store.ListUsableAccounts(ctx, owner, isShared)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	for _, a := range accounts {
		if _, err := m.unseal(a); err != nil {
			return nil, err
		}
	}
	return accounts, nil
}

// Get returns the account with the given id.
func (m *Manager) Get(ctx context.Context, accountID string) (*store.Account, error) {
	ctx, span := tracing.StartPoolSpan(ctx, "get")
	defer span.End()
	return m.get(ctx, accountID)
}

func (m *Manager) get(ctx context.Context, accountID string) (*store.Account, error) {
	a, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &fault.NotFoundError{Entity: "account", ID: accountID}
		}
		return nil, err
	}
	return m.unseal(a)
}

// ListForOwner returns all accounts imported by the owner, newest first.
func (m *Manager) ListForOwner(ctx context.Context, ownerUserID string) ([]*store.Account, error) {
	ctx, span := tracing.StartPoolSpan(ctx, "list_for_owner")
	defer span.End()

	accounts, err := m.store.ListAccountsForOwner(ctx, ownerUserID)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	for _, a := range accounts {
		if _, err := m.unseal(a); err != nil {
			return nil, err
		}
	}
	return accounts, nil
}

// RefreshToken updates the credential material after a successful
// upstream refresh and clears the need_refresh flag.
func (m *Manager) RefreshToken(ctx context.Context, accountID string, data TokenData) (*store.Account, error) {
	ctx, span := tracing.StartPoolSpan(ctx, "refresh_token")
	defer span.End()

	accessToken := strings.TrimSpace(data.AccessToken)
	if accessToken == "" {
		return nil, fault.Validationf("access_token", "required")
	}
	storedToken, err := m.sealToken(accessToken)
	if err != nil {
		return nil, err
	}

	n, err := m.store.UpdateAccountTokens(ctx, accountID, store.TokenUpdate{
		AccessToken:  storedToken,
		RefreshToken: trimPtr(data.RefreshToken),
		ExpiresAt:    data.ExpiresAt,
		LastRefresh:  data.LastRefresh,
		ResourceURL:  trimPtr(data.ResourceURL),
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	if n == 0 {
		return nil, &fault.NotFoundError{Entity: "account", ID: accountID}
	}
	m.logger.Info().Str("account_id", accountID).Msg("account token refreshed")
	return m.get(ctx, accountID)
}

// SetStatus enables (1) or disables (0) an account.
func (m *Manager) SetStatus(ctx context.Context, accountID string, status int) (*store.Account, error) {
	ctx, span := tracing.StartPoolSpan(ctx, "set_status")
	defer span.End()

	if status != 0 && status != 1 {
		return nil, fault.Validationf("status", "must be 0 or 1, got %d", status)
	}
	n, err := m.store.UpdateAccountStatus(ctx, accountID, status)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	if n == 0 {
		return nil, &fault.NotFoundError{Entity: "account", ID: accountID}
	}
	m.logger.Info().Str("account_id", accountID).Int("status", status).Msg("account status updated")
	return m.get(ctx, accountID)
}

// Rename changes the display name. Blank names are rejected.
func (m *Manager) Rename(ctx context.Context, accountID, name string) (*store.Account, error) {
	ctx, span := tracing.StartPoolSpan(ctx, "rename")
	defer span.End()

	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil, fault.Validationf("account_name", "required")
	}
	n, err := m.store.UpdateAccountName(ctx, accountID, trimmed)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	if n == 0 {
		return nil, &fault.NotFoundError{Entity: "account", ID: accountID}
	}
	return m.get(ctx, accountID)
}

// MarkNeedsRefresh flags the credential as rejected upstream so that
// selection skips it. The flag is cleared by the next Import or
// RefreshToken that succeeds against the row.
func (m *Manager) MarkNeedsRefresh(ctx context.Context, accountID string) (*store.Account, error) {
	ctx, span := tracing.StartPoolSpan(ctx, "mark_needs_refresh")
	defer span.End()

	n, err := m.store.MarkAccountNeedRefresh(ctx, accountID)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	if n == 0 {
		return nil, &fault.NotFoundError{Entity: "account", ID: accountID}
	}
	m.logger.Warn().Str("account_id", accountID).Msg("account flagged for refresh")
	return m.get(ctx, accountID)
}

// Remove deletes the account. Removal is final.
func (m *Manager) Remove(ctx context.Context, accountID string) error {
	ctx, span := tracing.StartPoolSpan(ctx, "remove")
	defer span.End()

	n, err := m.store.DeleteAccount(ctx, accountID)
	if err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	if n == 0 {
		return &fault.NotFoundError{Entity: "account", ID: accountID}
	}
	m.logger.Info().Str("account_id", accountID).Msg("account removed")
	return nil
}

// IsExpired reports whether the credential should be refreshed before
// use: true when no expiry is recorded, or when the current instant is
// at or past expires_at minus the safety margin.
func (m *Manager) IsExpired(a *store.Account) bool {
	if a == nil || a.ExpiresAt == nil {
		return true
	}
	expiresAt := time.UnixMilli(*a.ExpiresAt)
	return !m.now().Before(expiresAt.Add(-m.expiryMargin))
}

// sealToken encrypts an access token when a cipher is configured.
func (m *Manager) sealToken(token string) (string, error) {
	if m.cipher == nil {
		return token, nil
	}
	return m.cipher.Encrypt(token)
}

// unseal decrypts the access token on a loaded account in place.
func (m *Manager) unseal(a *store.Account) (*store.Account, error) {
	if m.cipher == nil {
		return a, nil
	}
	plain, err := m.cipher.Decrypt(a.AccessToken)
	if err != nil {
		return nil, err
	}
	a.AccessToken = plain
	return a, nil
}
