package store

import (
	"context"
	"testing"
)

func TestUpsertRule_InsertThenUpdate(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	r, err := st.UpsertRule(ctx, "PRO", []string{"m1", "m2"})
	if err != nil {
		t.Fatalf("UpsertRule insert: %v", err)
	}
	if r.Subscription != "PRO" || len(r.AllowedModelIDs) != 2 {
		t.Errorf("inserted rule: %+v", r)
	}

	r, err = st.UpsertRule(ctx, "PRO", []string{"m3"})
	if err != nil {
		t.Fatalf("UpsertRule update: %v", err)
	}
	if len(r.AllowedModelIDs) != 1 || r.AllowedModelIDs[0] != "m3" {
		t.Errorf("updated rule: %+v", r)
	}

	rules, err := st.ListRules(ctx)
	if err != nil {
		t.Fatalf("ListRules: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("got %d rules, want 1", len(rules))
	}
}

func TestUpsertRule_EmptySet(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	r, err := st.UpsertRule(ctx, "FREE", []string{})
	if err != nil {
		t.Fatalf("UpsertRule: %v", err)
	}
	if r.AllowedModelIDs == nil || len(r.AllowedModelIDs) != 0 {
		t.Errorf("empty rule should round-trip as empty, got %v", r.AllowedModelIDs)
	}

	rules, err := st.ListRules(ctx)
	if err != nil {
		t.Fatalf("ListRules: %v", err)
	}
	if len(rules) != 1 || rules[0].AllowedModelIDs == nil || len(rules[0].AllowedModelIDs) != 0 {
		t.Errorf("listed rule: %+v", rules[0])
	}
}

func TestDeleteRule(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.UpsertRule(ctx, "PRO", []string{"m1"}); err != nil {
		t.Fatalf("UpsertRule: %v", err)
	}

	n, err := st.DeleteRule(ctx, "PRO")
	if err != nil {
		t.Fatalf("DeleteRule: %v", err)
	}
	if n != 1 {
		t.Errorf("rows affected: got %d, want 1", n)
	}

	n, err = st.DeleteRule(ctx, "PRO")
	if err != nil {
		t.Fatalf("DeleteRule again: %v", err)
	}
	if n != 0 {
		t.Errorf("second delete: got %d, want 0", n)
	}
}

func TestListRules_MalformedJSON(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.Writer().ExecContext(ctx, `
		INSERT INTO subscription_models (subscription, allowed_model_ids, created_at, updated_at)
		VALUES ('BROKEN', 'not-json', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`); err != nil {
		t.Fatalf("raw insert: %v", err)
	}

	rules, err := st.ListRules(ctx)
	if err != nil {
		t.Fatalf("ListRules: %v", err)
	}
	if len(rules) != 1 || len(rules[0].AllowedModelIDs) != 0 {
		t.Errorf("malformed row should decode to empty set: %+v", rules[0])
	}
}
