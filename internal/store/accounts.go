package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Account is one pooled provider credential row. Nullable columns map to
// pointer fields: a nil Email or RefreshToken is genuinely absent, which
// matters because the partial unique indexes only bind non-null values.
type Account struct {
	AccountID    string
	OwnerUserID  string
	AccountName  *string
	Subscription string
	IsShared     int
	AccessToken  string
	RefreshToken *string
	ExpiresAt    *int64 // epoch milliseconds
	LastRefresh  *string
	ResourceURL  string
	Email        *string
	Status       int
	NeedRefresh  bool
	CreatedAt    string
	UpdatedAt    string
}

// ImportUpdate carries the mutable fields written when an import matches
// an existing row.
type ImportUpdate struct {
	AccountName  *string
	Subscription string
	IsShared     int
	AccessToken  string
	RefreshToken *string
	ExpiresAt    *int64
	LastRefresh  *string
	ResourceURL  string
	Email        *string
}

// TokenUpdate carries the fields written by a token refresh. Nil
// RefreshToken and ResourceURL leave the prior value in place.
type TokenUpdate struct {
	AccessToken  string
	RefreshToken *string
	ExpiresAt    *int64
	LastRefresh  *string
	ResourceURL  *string
}

const accountColumns = `account_id, owner_user_id, account_name, subscription, is_shared,
       access_token, refresh_token, expires_at, last_refresh, resource_url,
       email, status, need_refresh, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*Account, error) {
	a := &Account{}
	var needRefresh int
	err := row.Scan(
		&a.AccountID, &a.OwnerUserID, &a.AccountName, &a.Subscription, &a.IsShared,
		&a.AccessToken, &a.RefreshToken, &a.ExpiresAt, &a.LastRefresh, &a.ResourceURL,
		&a.Email, &a.Status, &needRefresh, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.NeedRefresh = needRefresh != 0
	return a, nil
}

// InsertAccount stores a new provider account. The account_id and both
// timestamps are assigned here; the written row is returned with those
// fields populated.
func (s *Store) InsertAccount(ctx context.Context, a *Account) (*Account, error) {
	a.AccountID = uuid.NewString()
	now := timestamp()
	a.CreatedAt = now
	a.UpdatedAt = now

	needRefresh := 0
	if a.NeedRefresh {
		needRefresh = 1
	}

	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO provider_accounts (
			account_id, owner_user_id, account_name, subscription, is_shared,
			access_token, refresh_token, expires_at, last_refresh, resource_url,
			email, status, need_refresh, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AccountID, a.OwnerUserID, a.AccountName, a.Subscription, a.IsShared,
		a.AccessToken, a.RefreshToken, a.ExpiresAt, a.LastRefresh, a.ResourceURL,
		a.Email, a.Status, needRefresh, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("store: insert account: %w", err)
	}
	return a, nil
}

// GetAccount retrieves a single account by its ID.
// Returns a wrapped sql.ErrNoRows if the account does not exist.
func (s *Store) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	a, err := scanAccount(s.reader.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM provider_accounts WHERE account_id = ?`, accountID))
	if err != nil {
		return nil, fmt.Errorf("store: get account %s: %w", accountID, err)
	}
	return a, nil
}

// GetAccountByEmail retrieves the account holding the given dedup email.
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	a, err := scanAccount(s.reader.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM provider_accounts WHERE email = ?`, email))
	if err != nil {
		return nil, fmt.Errorf("store: get account by email: %w", err)
	}
	return a, nil
}

// GetAccountByRefreshToken retrieves the account holding the given
// refresh token dedup key.
func (s *Store) GetAccountByRefreshToken(ctx context.Context, refreshToken string) (*Account, error) {
	a, err := scanAccount(s.reader.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM provider_accounts WHERE refresh_token = ?`, refreshToken))
	if err != nil {
		return nil, fmt.Errorf("store: get account by refresh token: %w", err)
	}
	return a, nil
}

// ListAccountsForOwner returns all accounts imported by the given owner,
// newest first.
func (s *Store) ListAccountsForOwner(ctx context.Context, ownerUserID string) ([]*Account, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM provider_accounts
		WHERE owner_user_id = ?
		ORDER BY created_at DESC`, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("store: list accounts for owner: %w", err)
	}
	return collectAccounts(rows)
}

// ListUsableAccounts returns accounts with status=1 and need_refresh=0,
// optionally filtered by shared flag and owner, ordered oldest-created
// first with account_id as a deterministic tie-break. Which filters apply
// is decided by the caller; this method only assembles them.
func (s *Store) ListUsableAccounts(ctx context.Context, ownerUserID *string, isShared *int) ([]*Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM provider_accounts
		WHERE status = 1 AND need_refresh = 0`
	var args []any

	if isShared != nil {
		query += ` AND is_shared = ?`
		args = append(args, *isShared)
	}
	if ownerUserID != nil {
		query += ` AND owner_user_id = ?`
		args = append(args, *ownerUserID)
	}
	query += ` ORDER BY created_at ASC, account_id ASC`

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list usable accounts: %w", err)
	}
	return collectAccounts(rows)
}

func collectAccounts(rows *sql.Rows) ([]*Account, error) {
	defer rows.Close()
	var results []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan account row: %w", err)
		}
		results = append(results, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: account rows: %w", err)
	}
	return results, nil
}

// UpdateImportedAccount overwrites the mutable fields of an existing row
// after an email-matched import, including the refresh token, and
// re-enables the account (need_refresh=0, status=1).
func (s *Store) UpdateImportedAccount(ctx context.Context, accountID string, f ImportUpdate) (int64, error) {
	result, err := s.writer.ExecContext(ctx, `
		UPDATE provider_accounts
		SET account_name = ?,
		    subscription = ?,
		    is_shared = ?,
		    access_token = ?,
		    refresh_token = ?,
		    expires_at = ?,
		    last_refresh = ?,
		    resource_url = ?,
		    updated_at = ?,
		    need_refresh = 0,
		    status = 1
		WHERE account_id = ?`,
		f.AccountName, f.Subscription, f.IsShared, f.AccessToken, f.RefreshToken,
		f.ExpiresAt, f.LastRefresh, f.ResourceURL,
		timestamp(), accountID,
	)
	if err != nil {
		return 0, fmt.Errorf("store: update imported account: %w", err)
	}
	return result.RowsAffected()
}

// UpdateImportedAccountKeepToken overwrites the mutable fields after a
// refresh-token-matched import. The matched refresh token is left as is
// and the email is back-filled via COALESCE so an existing non-null
// email is never overwritten with null.
func (s *Store) UpdateImportedAccountKeepToken(ctx context.Context, accountID string, f ImportUpdate) (int64, error) {
	result, err := s.writer.ExecContext(ctx, `
		UPDATE provider_accounts
		SET account_name = ?,
		    subscription = ?,
		    is_shared = ?,
		    access_token = ?,
		    expires_at = ?,
		    last_refresh = ?,
		    resource_url = ?,
		    email = COALESCE(?, email),
		    updated_at = ?,
		    need_refresh = 0,
		    status = 1
		WHERE account_id = ?`,
		f.AccountName, f.Subscription, f.IsShared, f.AccessToken,
		f.ExpiresAt, f.LastRefresh, f.ResourceURL, f.Email,
		timestamp(), accountID,
	)
	if err != nil {
		return 0, fmt.Errorf("store: update imported account by token: %w", err)
	}
	return result.RowsAffected()
}

// UpdateAccountTokens writes a token refresh. Nil refresh_token and
// resource_url coalesce to the prior value; need_refresh is cleared.
func (s *Store) UpdateAccountTokens(ctx context.Context, accountID string, t TokenUpdate) (int64, error) {
	result, err := s.writer.ExecContext(ctx, `
		UPDATE provider_accounts
		SET access_token = ?,
		    refresh_token = COALESCE(?, refresh_token),
		    expires_at = ?,
		    last_refresh = ?,
		    resource_url = COALESCE(?, resource_url),
		    updated_at = ?,
		    need_refresh = 0
		WHERE account_id = ?`,
		t.AccessToken, t.RefreshToken, t.ExpiresAt, t.LastRefresh, t.ResourceURL,
		timestamp(), accountID,
	)
	if err != nil {
		return 0, fmt.Errorf("store: update account tokens: %w", err)
	}
	return result.RowsAffected()
}

// UpdateAccountStatus sets the enabled/disabled flag.
func (s *Store) UpdateAccountStatus(ctx context.Context, accountID string, status int) (int64, error) {
	result, err := s.writer.ExecContext(ctx, `
		UPDATE provider_accounts
		SET status = ?, updated_at = ?
		WHERE account_id = ?`,
		status, timestamp(), accountID,
	)
	if err != nil {
		return 0, fmt.Errorf("store: update account status: %w", err)
	}
	return result.RowsAffected()
}

// UpdateAccountName sets the display name.
func (s *Store) UpdateAccountName(ctx context.Context, accountID, name string) (int64, error) {
	result, err := s.writer.ExecContext(ctx, `
		UPDATE provider_accounts
		SET account_name = ?, updated_at = ?
		WHERE account_id = ?`,
		name, timestamp(), accountID,
	)
	if err != nil {
		return 0, fmt.Errorf("store: update account name: %w", err)
	}
	return result.RowsAffected()
}

// MarkAccountNeedRefresh flags the credential as stale so selection
// skips it until the next successful token refresh.
func (s *Store) MarkAccountNeedRefresh(ctx context.Context, accountID string) (int64, error) {
	result, err := s.writer.ExecContext(ctx, `
		UPDATE provider_accounts
		SET need_refresh = 1, updated_at = ?
		WHERE account_id = ?`,
		timestamp(), accountID,
	)
	if err != nil {
		return 0, fmt.Errorf("store: mark account need refresh: %w", err)
	}
	return result.RowsAffected()
}

// DeleteAccount removes the row. Removal is final.
func (s *Store) DeleteAccount(ctx context.Context, accountID string) (int64, error) {
	result, err := s.writer.ExecContext(ctx,
		`DELETE FROM provider_accounts WHERE account_id = ?`, accountID)
	if err != nil {
		return 0, fmt.Errorf("store: delete account: %w", err)
	}
	return result.RowsAffected()
}

// DistinctSubscriptions returns the raw subscription labels observed
// across all accounts, sorted, excluding blanks.
func (s *Store) DistinctSubscriptions(ctx context.Context) ([]string, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT DISTINCT subscription
		FROM provider_accounts
		WHERE subscription != ''
		ORDER BY subscription`)
	if err != nil {
		return nil, fmt.Errorf("store: distinct subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("store: scan subscription: %w", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: subscription rows: %w", err)
	}
	return subs, nil
}
