package ops

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/morsel/internal/analysis"
	"github.com/hpungsan/morsel/internal/db"
	"github.com/hpungsan/morsel/internal/errors"
)

// HistoryRecorder saves controller snapshots to analysis history.
// One row per session; later snapshots of the same session update its transcript.
type HistoryRecorder struct {
	db *sql.DB
}

// NewHistoryRecorder creates a recorder backed by database.
func NewHistoryRecorder(database *sql.DB) *HistoryRecorder {
	return &HistoryRecorder{db: database}
}

// Record implements session.Recorder.
func (r *HistoryRecorder) Record(ctx context.Context, snap *analysis.Snapshot) error {
	_, err := SaveHistory(ctx, r.db, snap)
	return err
}

// SaveHistory stores a snapshot, creating the history item on first save.
func SaveHistory(ctx context.Context, database *sql.DB, snap *analysis.Snapshot) (*db.HistoryItem, error) {
	if snap == nil || snap.ID == "" {
		return nil, errors.NewInvalidInput("snapshot with a session id is required")
	}
	id, err := generateULID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	now := time.Now().Unix()
	item := &db.HistoryItem{
		ID:              id,
		SessionID:       snap.ID,
		ProductName:     snap.ProductName,
		IngredientsText: snap.IngredientsText,
		Result:          snap.Result,
		Transcript:      snap.Transcript,
		CreatedAt:       snap.CreatedAt.Unix(),
		UpdatedAt:       now,
	}
	if snap.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if err := db.UpsertHistory(ctx, database, item); err != nil {
		return nil, err
	}
	return item, nil
}

// ListHistoryInput contains parameters for the ListHistory operation.
type ListHistoryInput struct {
	StarredOnly bool
	Limit       int // default: 20, max: 100
	Offset      int // default: 0
}

// ListHistoryOutput contains the result of the ListHistory operation.
type ListHistoryOutput struct {
	Items      []db.HistorySummary `json:"items"`
	Pagination Pagination          `json:"pagination"`
	Sort       string              `json:"sort"`
}

// ListHistory retrieves history summaries, newest first, with pagination.
func ListHistory(ctx context.Context, database *sql.DB, input ListHistoryInput) (*ListHistoryOutput, error) {
	limit, offset := clampPage(input.Limit, input.Offset)

	items, total, err := db.ListHistory(ctx, database, input.StarredOnly, limit, offset)
	if err != nil {
		return nil, err
	}

	// Ensure we return an empty array rather than nil
	if items == nil {
		items = []db.HistorySummary{}
	}

	return &ListHistoryOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
		Sort: "created_at_desc",
	}, nil
}

// ShowHistory retrieves one history item with its transcript.
func ShowHistory(ctx context.Context, database *sql.DB, id string) (*db.HistoryItem, error) {
	id, err := requireID(id, "history")
	if err != nil {
		return nil, err
	}
	return db.GetHistory(ctx, database, id)
}

// StarInput contains parameters for the StarHistory operation.
type StarInput struct {
	ID      string
	Starred *bool // nil toggles the current value
}

// StarOutput contains the result of the StarHistory operation.
type StarOutput struct {
	ID        string `json:"id"`
	IsStarred bool   `json:"is_starred"`
}

// StarHistory sets or toggles the starred flag of a history item.
func StarHistory(ctx context.Context, database *sql.DB, input StarInput) (*StarOutput, error) {
	id, err := requireID(input.ID, "history")
	if err != nil {
		return nil, err
	}

	var starred bool
	if input.Starred != nil {
		starred = *input.Starred
	} else {
		current, err := db.GetHistory(ctx, database, id)
		if err != nil {
			return nil, err
		}
		starred = !current.IsStarred
	}

	if err := db.SetStarred(ctx, database, id, starred); err != nil {
		return nil, err
	}
	return &StarOutput{ID: id, IsStarred: starred}, nil
}

// DeleteHistory permanently removes a history item.
func DeleteHistory(ctx context.Context, database *sql.DB, id string) (*DeleteOutput, error) {
	id, err := requireID(id, "history")
	if err != nil {
		return nil, err
	}
	if err := db.DeleteHistory(ctx, database, id); err != nil {
		return nil, err
	}
	return &DeleteOutput{Deleted: true, ID: id}, nil
}
