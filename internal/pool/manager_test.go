package pool

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/antihubdev/credbroker/internal/fault"
	"github.com/antihubdev/credbroker/internal/store"
	"github.com/antihubdev/credbroker/internal/testutil"
	"github.com/antihubdev/credbroker/internal/vault"
)

func newTestManager(t *testing.T, opts Options) (*Manager, *store.Store) {
	t.Helper()
	st := testutil.NewTestStore(t)
	return NewManager(st, zerolog.Nop(), opts), st
}

func strptr(s string) *string { return &s }
func i64ptr(n int64) *int64   { return &n }

func TestImport_Validation(t *testing.T) {
	mgr, _ := newTestManager(t, Options{})
	ctx := context.Background()

	cases := []struct {
		name string
		data ImportData
	}{
		{"missing owner", ImportData{AccessToken: "tok"}},
		{"blank owner", ImportData{OwnerUserID: "   ", AccessToken: "tok"}},
		{"missing token", ImportData{OwnerUserID: "alice"}},
		{"bad shared flag", ImportData{OwnerUserID: "alice", AccessToken: "tok", IsShared: 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := mgr.Import(ctx, tc.data); !fault.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestImport_NewAccountDefaults(t *testing.T) {
	mgr, _ := newTestManager(t, Options{})
	ctx := context.Background()

	a, err := mgr.Import(ctx, ImportData{
		OwnerUserID: "alice",
		AccessToken: "  tok-1  ",
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if a.AccountID == "" {
		t.Error("AccountID not assigned")
	}
	if a.AccessToken != "tok-1" {
		t.Errorf("token not trimmed: %q", a.AccessToken)
	}
	if a.ResourceURL != "portal.qwen.ai" {
		t.Errorf("default resource url: got %q", a.ResourceURL)
	}
	if a.Status != 1 || a.NeedRefresh {
		t.Errorf("new account should be enabled and clean: status=%d need_refresh=%v", a.Status, a.NeedRefresh)
	}
}

func TestImport_IdempotentByEmail(t *testing.T) {
	mgr, st := newTestManager(t, Options{})
	ctx := context.Background()

	first, err := mgr.Import(ctx, ImportData{
		OwnerUserID: "alice",
		AccessToken: "tok-old",
		Email:       strptr("a@example.com"),
	})
	if err != nil {
		t.Fatalf("first Import: %v", err)
	}

	second, err := mgr.Import(ctx, ImportData{
		OwnerUserID:  "alice",
		AccessToken:  "tok-new",
		Email:        strptr("a@example.com"),
		Subscription: "MAX",
	})
	if err != nil {
		t.Fatalf("second Import: %v", err)
	}
	if second.AccountID != first.AccountID {
		t.Errorf("re-import created new row: %q vs %q", second.AccountID, first.AccountID)
	}
	if second.AccessToken != "tok-new" || second.Subscription != "MAX" {
		t.Errorf("row not updated: %+v", second)
	}

	all, err := st.ListAccountsForOwner(ctx, "alice")
	if err != nil {
		t.Fatalf("ListAccountsForOwner: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("pool has %d accounts, want 1", len(all))
	}
}

func TestImport_IdempotentByRefreshToken_BackfillsEmail(t *testing.T) {
	mgr, _ := newTestManager(t, Options{})
	ctx := context.Background()

	first, err := mgr.Import(ctx, ImportData{
		OwnerUserID:  "alice",
		AccessToken:  "tok-old",
		RefreshToken: strptr("rt-1"),
	})
	if err != nil {
		t.Fatalf("first Import: %v", err)
	}
	if first.Email != nil {
		t.Fatalf("unexpected email on first import: %v", first.Email)
	}

	second, err := mgr.Import(ctx, ImportData{
		OwnerUserID:  "alice",
		AccessToken:  "tok-new",
		RefreshToken: strptr("rt-1"),
		Email:        strptr("late@example.com"),
	})
	if err != nil {
		t.Fatalf("second Import: %v", err)
	}
	if second.AccountID != first.AccountID {
		t.Error("refresh token match should update in place")
	}
	if second.Email == nil || *second.Email != "late@example.com" {
		t.Errorf("email not backfilled: %v", second.Email)
	}
}

func TestImport_ConflictAcrossOwners(t *testing.T) {
	mgr, _ := newTestManager(t, Options{})
	ctx := context.Background()

	if _, err := mgr.Import(ctx, ImportData{
		OwnerUserID: "alice",
		AccessToken: "tok",
		Email:       strptr("shared@example.com"),
	}); err != nil {
		t.Fatalf("Import: %v", err)
	}

	_, err := mgr.Import(ctx, ImportData{
		OwnerUserID: "bob",
		AccessToken: "tok2",
		Email:       strptr("shared@example.com"),
	})
	if !fault.IsConflict(err) {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestImport_RefreshTokenConflictAcrossOwners(t *testing.T) {
	mgr, _ := newTestManager(t, Options{})
	ctx := context.Background()

	if _, err := mgr.Import(ctx, ImportData{
		OwnerUserID:  "alice",
		AccessToken:  "tok",
		RefreshToken: strptr("rt-shared"),
	}); err != nil {
		t.Fatalf("Import: %v", err)
	}

	_, err := mgr.Import(ctx, ImportData{
		OwnerUserID:  "bob",
		AccessToken:  "tok2",
		RefreshToken: strptr("rt-shared"),
	})
	if !fault.IsConflict(err) {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestImport_ResetsDisabledAndFlagged(t *testing.T) {
	mgr, _ := newTestManager(t, Options{})
	ctx := context.Background()

	a, err := mgr.Import(ctx, ImportData{
		OwnerUserID: "alice",
		AccessToken: "tok",
		Email:       strptr("a@example.com"),
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if _, err := mgr.SetStatus(ctx, a.AccountID, 0); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if _, err := mgr.MarkNeedsRefresh(ctx, a.AccountID); err != nil {
		t.Fatalf("MarkNeedsRefresh: %v", err)
	}

	// A successful re-import represents fresh working credentials, so
	// the account returns to the eligible set.
	got, err := mgr.Import(ctx, ImportData{
		OwnerUserID: "alice",
		AccessToken: "tok-new",
		Email:       strptr("a@example.com"),
	})
	if err != nil {
		t.Fatalf("re-Import: %v", err)
	}
	if got.Status != 1 || got.NeedRefresh {
		t.Errorf("re-import should reset state: status=%d need_refresh=%v", got.Status, got.NeedRefresh)
	}
}

func TestSelectUsable_SharedOnlySpansOwners(t *testing.T) {
	mgr, _ := newTestManager(t, Options{})
	ctx := context.Background()

	importOne := func(owner string, shared int, email string) {
		t.Helper()
		if _, err := mgr.Import(ctx, ImportData{
			OwnerUserID: owner,
			AccessToken: "tok",
			IsShared:    shared,
			Email:       strptr(email),
		}); err != nil {
			t.Fatalf("Import: %v", err)
		}
	}
	importOne("alice", 0, "a1@example.com")
	importOne("alice", 1, "a2@example.com")
	importOne("bob", 1, "b1@example.com")

	owner := "alice"
	shared := 1
	got, err := mgr.SelectUsable(ctx, &owner, &shared)
	if err != nil {
		t.Fatalf("SelectUsable: %v", err)
	}
	// Shared-only selection ignores the owner filter.
	if len(got) != 2 {
		t.Errorf("shared-only: got %d accounts, want 2", len(got))
	}

	private := 0
	got, err = mgr.SelectUsable(ctx, &owner, &private)
	if err != nil {
		t.Fatalf("SelectUsable private: %v", err)
	}
	if len(got) != 1 || got[0].OwnerUserID != "alice" {
		t.Errorf("private: got %d accounts", len(got))
	}

	got, err = mgr.SelectUsable(ctx, &owner, nil)
	if err != nil {
		t.Fatalf("SelectUsable unfiltered: %v", err)
	}
	// No shared filter means the owner's own accounts, shared or not.
	if len(got) != 2 {
		t.Errorf("owner unfiltered: got %d accounts, want 2", len(got))
	}
}

func TestRefreshToken_RestoresSelectability(t *testing.T) {
	mgr, _ := newTestManager(t, Options{})
	ctx := context.Background()

	a, err := mgr.Import(ctx, ImportData{
		OwnerUserID:  "alice",
		AccessToken:  "tok",
		RefreshToken: strptr("rt-1"),
		Email:        strptr("a@example.com"),
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}

	if _, err := mgr.MarkNeedsRefresh(ctx, a.AccountID); err != nil {
		t.Fatalf("MarkNeedsRefresh: %v", err)
	}
	got, err := mgr.SelectUsable(ctx, nil, nil)
	if err != nil {
		t.Fatalf("SelectUsable: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("flagged account still selectable: %d", len(got))
	}

	refreshed, err := mgr.RefreshToken(ctx, a.AccountID, TokenData{
		AccessToken:  "tok-new",
		RefreshToken: strptr("rt-2"),
		ExpiresAt:    i64ptr(time.Now().Add(time.Hour).UnixMilli()),
	})
	if err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	if refreshed.NeedRefresh {
		t.Error("need_refresh not cleared")
	}
	if refreshed.RefreshToken == nil || *refreshed.RefreshToken != "rt-2" {
		t.Errorf("refresh token: got %v", refreshed.RefreshToken)
	}

	got, err = mgr.SelectUsable(ctx, nil, nil)
	if err != nil {
		t.Fatalf("SelectUsable after refresh: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("refreshed account not selectable: %d", len(got))
	}
}

func TestRefreshToken_KeepsStoredValuesWhenNil(t *testing.T) {
	mgr, _ := newTestManager(t, Options{})
	ctx := context.Background()

	a, err := mgr.Import(ctx, ImportData{
		OwnerUserID:  "alice",
		AccessToken:  "tok",
		RefreshToken: strptr("rt-keep"),
		ResourceURL:  strptr("portal.custom.example"),
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}

	got, err := mgr.RefreshToken(ctx, a.AccountID, TokenData{AccessToken: "tok-new"})
	if err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	if got.RefreshToken == nil || *got.RefreshToken != "rt-keep" {
		t.Errorf("refresh token replaced: %v", got.RefreshToken)
	}
	if got.ResourceURL != "portal.custom.example" {
		t.Errorf("resource url replaced: %q", got.ResourceURL)
	}
}

func TestRefreshToken_NotFound(t *testing.T) {
	mgr, _ := newTestManager(t, Options{})
	_, err := mgr.RefreshToken(context.Background(), "missing", TokenData{AccessToken: "tok"})
	if !fault.IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestRename_Validation(t *testing.T) {
	mgr, _ := newTestManager(t, Options{})
	ctx := context.Background()

	a, err := mgr.Import(ctx, ImportData{OwnerUserID: "alice", AccessToken: "tok"})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}

	if _, err := mgr.Rename(ctx, a.AccountID, "   "); !fault.IsValidation(err) {
		t.Errorf("expected validation error for blank name, got %v", err)
	}

	got, err := mgr.Rename(ctx, a.AccountID, "  work  ")
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if got.AccountName == nil || *got.AccountName != "work" {
		t.Errorf("name: got %v", got.AccountName)
	}
}

func TestSetStatus_Validation(t *testing.T) {
	mgr, _ := newTestManager(t, Options{})
	ctx := context.Background()

	a, err := mgr.Import(ctx, ImportData{OwnerUserID: "alice", AccessToken: "tok"})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if _, err := mgr.SetStatus(ctx, a.AccountID, 5); !fault.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, err := mgr.SetStatus(ctx, "missing", 1); !fault.IsNotFound(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	mgr, _ := newTestManager(t, Options{})
	ctx := context.Background()

	a, err := mgr.Import(ctx, ImportData{OwnerUserID: "alice", AccessToken: "tok"})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if err := mgr.Remove(ctx, a.AccountID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := mgr.Get(ctx, a.AccountID); !fault.IsNotFound(err) {
		t.Errorf("expected not-found after remove, got %v", err)
	}
	if err := mgr.Remove(ctx, a.AccountID); !fault.IsNotFound(err) {
		t.Errorf("second remove: expected not-found, got %v", err)
	}
}

func TestIsExpired_MarginBoundary(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mgr, _ := newTestManager(t, Options{Now: func() time.Time { return now }})

	mk := func(expiresAt time.Time) *store.Account {
		ms := expiresAt.UnixMilli()
		return &store.Account{ExpiresAt: &ms}
	}

	// Expiry six minutes out is beyond the five-minute margin.
	if mgr.IsExpired(mk(now.Add(6 * time.Minute))) {
		t.Error("six minutes out should not be expired")
	}
	// Four minutes out falls inside the margin.
	if !mgr.IsExpired(mk(now.Add(4 * time.Minute))) {
		t.Error("four minutes out should be expired")
	}
	// Exactly at the margin counts as expired.
	if !mgr.IsExpired(mk(now.Add(5 * time.Minute))) {
		t.Error("exactly at margin should be expired")
	}
	if !mgr.IsExpired(mk(now.Add(-time.Minute))) {
		t.Error("past expiry should be expired")
	}
	// Unknown expiry is treated as needing refresh.
	if !mgr.IsExpired(&store.Account{}) {
		t.Error("nil expires_at should be expired")
	}
	if !mgr.IsExpired(nil) {
		t.Error("nil account should be expired")
	}
}

func TestIsExpired_CustomMargin(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mgr, _ := newTestManager(t, Options{
		ExpiryMargin: time.Minute,
		Now:          func() time.Time { return now },
	})
	ms := now.Add(3 * time.Minute).UnixMilli()
	if mgr.IsExpired(&store.Account{ExpiresAt: &ms}) {
		t.Error("three minutes out with one-minute margin should not be expired")
	}
}

func TestManager_CipherSealsTokensAtRest(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	c, err := vault.NewCipher(key)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	st := testutil.NewTestStore(t)
	mgr := NewManager(st, zerolog.Nop(), Options{Cipher: c})
	ctx := context.Background()

	a, err := mgr.Import(ctx, ImportData{
		OwnerUserID: "alice",
		AccessToken: "super-secret",
		Email:       strptr("a@example.com"),
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if a.AccessToken != "super-secret" {
		t.Errorf("returned token should be plaintext: %q", a.AccessToken)
	}

	// The raw row holds only the sealed form.
	raw, err := st.GetAccount(ctx, a.AccountID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !strings.HasPrefix(raw.AccessToken, "enc:v1:") {
		t.Errorf("stored token not sealed: %q", raw.AccessToken)
	}

	got, err := mgr.Get(ctx, a.AccountID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AccessToken != "super-secret" {
		t.Errorf("Get should unseal: %q", got.AccessToken)
	}

	selected, err := mgr.SelectUsable(ctx, nil, nil)
	if err != nil {
		t.Fatalf("SelectUsable: %v", err)
	}
	if len(selected) != 1 || selected[0].AccessToken != "super-secret" {
		t.Errorf("SelectUsable should unseal: %+v", selected)
	}
}

func TestLifecycleScenario(t *testing.T) {
	mgr, _ := newTestManager(t, Options{})
	ctx := context.Background()

	// Import, get rejected upstream, refresh, keep serving.
	a, err := mgr.Import(ctx, ImportData{
		OwnerUserID:  "alice",
		AccessToken:  "tok-1",
		RefreshToken: strptr("rt-1"),
		IsShared:     1,
		Email:        strptr("pool@example.com"),
		Subscription: "PRO",
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}

	shared := 1
	got, err := mgr.SelectUsable(ctx, nil, &shared)
	if err != nil || len(got) != 1 {
		t.Fatalf("initial selection: n=%d err=%v", len(got), err)
	}

	if _, err := mgr.MarkNeedsRefresh(ctx, a.AccountID); err != nil {
		t.Fatalf("MarkNeedsRefresh: %v", err)
	}
	got, err = mgr.SelectUsable(ctx, nil, &shared)
	if err != nil || len(got) != 0 {
		t.Fatalf("flagged selection: n=%d err=%v", len(got), err)
	}

	if _, err := mgr.RefreshToken(ctx, a.AccountID, TokenData{AccessToken: "tok-2"}); err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	got, err = mgr.SelectUsable(ctx, nil, &shared)
	if err != nil || len(got) != 1 {
		t.Fatalf("restored selection: n=%d err=%v", len(got), err)
	}
	if got[0].AccessToken != "tok-2" {
		t.Errorf("selection carries stale token: %q", got[0].AccessToken)
	}
}
