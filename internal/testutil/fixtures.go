package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/antihubdev/credbroker/internal/store"
)

// SampleAccount returns an insertable account owned by the given user.
// The index varies the email and refresh token so several samples can
// coexist in one pool.
func SampleAccount(owner string, i int) *store.Account {
	email := fmt.Sprintf("user%d@example.com", i)
	refresh := fmt.Sprintf("refresh-token-%d", i)
	name := fmt.Sprintf("account-%d", i)
	return &store.Account{
		OwnerUserID:  owner,
		AccountName:  &name,
		Subscription: "PRO",
		IsShared:     0,
		AccessToken:  fmt.Sprintf("access-token-%d", i),
		RefreshToken: &refresh,
		ResourceURL:  "portal.qwen.ai",
		Email:        &email,
		Status:       1,
	}
}

// InsertAccount inserts a sample account and fails the test on error.
func InsertAccount(t *testing.T, st *store.Store, a *store.Account) *store.Account {
	t.Helper()
	inserted, err := st.InsertAccount(context.Background(), a)
	if err != nil {
		t.Fatalf("failed to insert account: %v", err)
	}
	return inserted
}

// SampleConsumption returns an insertable consumption record tying the
// user to the account for the given model.
func SampleConsumption(userID, accountID, modelID string, credit float64) *store.ConsumptionRecord {
	return &store.ConsumptionRecord{
		UserID:       userID,
		AccountID:    accountID,
		ModelID:      modelID,
		CreditUsed:   credit,
		IsShared:     0,
		Method:       "POST",
		DurationMs:   120,
		Success:      true,
		InputTokens:  100,
		OutputTokens: 50,
		TotalTokens:  150,
	}
}

// InsertConsumption inserts a sample record and fails the test on error.
func InsertConsumption(t *testing.T, st *store.Store, r *store.ConsumptionRecord) *store.ConsumptionRecord {
	t.Helper()
	inserted, err := st.InsertConsumption(context.Background(), r)
	if err != nil {
		t.Fatalf("failed to insert consumption record: %v", err)
	}
	return inserted
}
