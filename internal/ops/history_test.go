package ops

import (
	"context"
	"testing"
	"time"

	"github.com/hpungsan/morsel/internal/analysis"
	"github.com/hpungsan/morsel/internal/errors"
)

func testSnapshot(sessionID string, turns ...analysis.Turn) *analysis.Snapshot {
	if turns == nil {
		turns = []analysis.Turn{}
	}
	return &analysis.Snapshot{
		ID:              sessionID,
		IngredientsText: "Water, Sugar, Palm Oil",
		ProductName:     stringPtr("Snack Bar"),
		Result: analysis.Result{
			Verdict:        analysis.VerdictCaution,
			WhatStoodOut:   "Palm oil",
			WhyMatters:     "Saturated fat.",
			WhatsUncertain: "Sourcing.",
			BottomLine:     "Occasionally.",
		},
		Transcript: turns,
		CreatedAt:  time.Now(),
	}
}

func TestHistoryRecorder_OneRowPerSession(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	rec := NewHistoryRecorder(database)

	if err := rec.Record(ctx, testSnapshot("sess-1")); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	turns := []analysis.Turn{
		{Role: analysis.RoleUser, Content: "Is palm oil vegan?", Timestamp: time.Now()},
		{Role: analysis.RoleAssistant, Content: "Yes.", Timestamp: time.Now()},
	}
	if err := rec.Record(ctx, testSnapshot("sess-1", turns...)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	out, err := ListHistory(ctx, database, ListHistoryInput{})
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if out.Pagination.Total != 1 {
		t.Fatalf("Total = %d, want 1", out.Pagination.Total)
	}
	if out.Items[0].TurnCount != 2 {
		t.Errorf("TurnCount = %d, want 2", out.Items[0].TurnCount)
	}

	item, err := ShowHistory(ctx, database, out.Items[0].ID)
	if err != nil {
		t.Fatalf("ShowHistory failed: %v", err)
	}
	if item.Transcript[0].Content != "Is palm oil vegan?" {
		t.Errorf("Transcript[0] = %+v", item.Transcript[0])
	}
}

func TestSaveHistory_RequiresSessionID(t *testing.T) {
	database := openTestDB(t)

	_, err := SaveHistory(context.Background(), database, &analysis.Snapshot{})
	if !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("error = %v, want INVALID_INPUT", err)
	}
}

func TestListHistory_Pagination(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := SaveHistory(ctx, database, testSnapshot("sess-"+id)); err != nil {
			t.Fatalf("SaveHistory failed: %v", err)
		}
	}

	out, err := ListHistory(ctx, database, ListHistoryInput{Limit: 2})
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if len(out.Items) != 2 || !out.Pagination.HasMore || out.Pagination.Total != 3 {
		t.Errorf("page 1 = %d items, pagination %+v", len(out.Items), out.Pagination)
	}
	if out.Sort != "created_at_desc" {
		t.Errorf("Sort = %q, want created_at_desc", out.Sort)
	}

	out, err = ListHistory(ctx, database, ListHistoryInput{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if len(out.Items) != 1 || out.Pagination.HasMore {
		t.Errorf("page 2 = %d items, pagination %+v", len(out.Items), out.Pagination)
	}
}

func TestListHistory_EmptyIsNotNil(t *testing.T) {
	database := openTestDB(t)

	out, err := ListHistory(context.Background(), database, ListHistoryInput{StarredOnly: true})
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if out.Items == nil {
		t.Error("Items = nil, want empty slice")
	}
}

func TestStarHistory_ToggleAndSet(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	item, err := SaveHistory(ctx, database, testSnapshot("sess-1"))
	if err != nil {
		t.Fatalf("SaveHistory failed: %v", err)
	}

	out, err := StarHistory(ctx, database, StarInput{ID: item.ID})
	if err != nil || !out.IsStarred {
		t.Fatalf("toggle on: %+v, %v", out, err)
	}
	out, err = StarHistory(ctx, database, StarInput{ID: item.ID})
	if err != nil || out.IsStarred {
		t.Fatalf("toggle off: %+v, %v", out, err)
	}
	out, err = StarHistory(ctx, database, StarInput{ID: item.ID, Starred: boolPtr(true)})
	if err != nil || !out.IsStarred {
		t.Fatalf("set: %+v, %v", out, err)
	}

	starred, _ := ListHistory(ctx, database, ListHistoryInput{StarredOnly: true})
	if len(starred.Items) != 1 {
		t.Errorf("starred items = %d, want 1", len(starred.Items))
	}
}

func TestStarHistory_NotFound(t *testing.T) {
	database := openTestDB(t)

	_, err := StarHistory(context.Background(), database, StarInput{ID: "missing"})
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("error = %v, want NOT_FOUND", err)
	}
}

func TestDeleteHistory(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	item, err := SaveHistory(ctx, database, testSnapshot("sess-1"))
	if err != nil {
		t.Fatalf("SaveHistory failed: %v", err)
	}

	out, err := DeleteHistory(ctx, database, item.ID)
	if err != nil || !out.Deleted || out.ID != item.ID {
		t.Fatalf("DeleteHistory = %+v, %v", out, err)
	}
	if _, err := ShowHistory(ctx, database, item.ID); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("ShowHistory after delete error = %v, want NOT_FOUND", err)
	}
	if _, err := DeleteHistory(ctx, database, ""); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("DeleteHistory(blank) error = %v, want INVALID_INPUT", err)
	}
}
