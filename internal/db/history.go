package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hpungsan/morsel/internal/analysis"
	"github.com/hpungsan/morsel/internal/errors"
)

// HistoryItem is a saved analysis with the follow-up transcript as of its last update.
type HistoryItem struct {
	ID              string          `json:"id"`
	SessionID       string          `json:"session_id"`
	ProductName     *string         `json:"product_name,omitempty"`
	IngredientsText string          `json:"ingredients_text"`
	Result          analysis.Result `json:"result"`
	IsStarred       bool            `json:"is_starred"`
	Transcript      []analysis.Turn `json:"transcript"`
	CreatedAt       int64           `json:"created_at"`
	UpdatedAt       int64           `json:"updated_at"`
}

// HistorySummary is the list view of a history item, without ingredients or transcript.
type HistorySummary struct {
	ID          string           `json:"id"`
	SessionID   string           `json:"session_id"`
	ProductName *string          `json:"product_name,omitempty"`
	Verdict     analysis.Verdict `json:"verdict"`
	BottomLine  string           `json:"bottom_line"`
	IsStarred   bool             `json:"is_starred"`
	TurnCount   int              `json:"turn_count"`
	CreatedAt   int64            `json:"created_at"`
}

// UpsertHistory inserts h, or, when a row for the same session already exists,
// replaces its transcript and updated_at. h.ID and h.CreatedAt are set to the
// stored row's values.
func UpsertHistory(ctx context.Context, db *sql.DB, h *HistoryItem) error {
	transcript := h.Transcript
	if transcript == nil {
		transcript = []analysis.Turn{}
	}
	data, err := json.Marshal(transcript)
	if err != nil {
		return errors.NewInternal(err)
	}

	query := `
		INSERT INTO analysis_history (
			id, session_id, product_name, ingredients_text, verdict,
			what_stood_out, why_matters, whats_uncertain, bottom_line,
			is_starred, transcript_json, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			transcript_json = excluded.transcript_json,
			updated_at = excluded.updated_at
		WHERE json_array_length(excluded.transcript_json) >= json_array_length(analysis_history.transcript_json)
		RETURNING id, created_at, is_starred
	`

	r := h.Result
	err = db.QueryRowContext(ctx, query,
		h.ID, h.SessionID, toNullString(h.ProductName), h.IngredientsText, string(r.Verdict),
		r.WhatStoodOut, r.WhyMatters, r.WhatsUncertain, r.BottomLine,
		h.IsStarred, string(data), h.CreatedAt, h.UpdatedAt,
	).Scan(&h.ID, &h.CreatedAt, &h.IsStarred)
	if err == sql.ErrNoRows {
		// A longer transcript is already stored; this snapshot arrived late.
		err = db.QueryRowContext(ctx,
			`SELECT id, created_at, is_starred FROM analysis_history WHERE session_id = ?`,
			h.SessionID,
		).Scan(&h.ID, &h.CreatedAt, &h.IsStarred)
	}
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetHistory retrieves a history item by its ULID.
func GetHistory(ctx context.Context, db *sql.DB, id string) (*HistoryItem, error) {
	query := `
		SELECT id, session_id, product_name, ingredients_text, verdict,
			what_stood_out, why_matters, whats_uncertain, bottom_line,
			is_starred, transcript_json, created_at, updated_at
		FROM analysis_history
		WHERE id = ?
	`

	h, err := scanHistory(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("history item", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return h, nil
}

// ListHistory returns history summaries, newest first, and the total matching count.
func ListHistory(ctx context.Context, db *sql.DB, starredOnly bool, limit, offset int) ([]HistorySummary, int, error) {
	where := ""
	if starredOnly {
		where = "WHERE is_starred = 1"
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM analysis_history %s", where)
	if err := db.QueryRowContext(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	query := fmt.Sprintf(`
		SELECT id, session_id, product_name, verdict, bottom_line, is_starred,
			json_array_length(transcript_json), created_at
		FROM analysis_history
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, where)

	rows, err := db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	var items []HistorySummary
	for rows.Next() {
		var (
			s           HistorySummary
			productName sql.NullString
			verdict     string
		)
		if err := rows.Scan(&s.ID, &s.SessionID, &productName, &verdict, &s.BottomLine,
			&s.IsStarred, &s.TurnCount, &s.CreatedAt); err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		s.ProductName = fromNullString(productName)
		s.Verdict = analysis.Verdict(verdict)
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	return items, total, nil
}

// StreamHistory returns rows for export, oldest first. Caller must close rows
// and read them with ScanHistoryRows.
func StreamHistory(ctx context.Context, db *sql.DB, starredOnly bool) (*sql.Rows, error) {
	query := `
		SELECT id, session_id, product_name, ingredients_text, verdict,
			what_stood_out, why_matters, whats_uncertain, bottom_line,
			is_starred, transcript_json, created_at, updated_at
		FROM analysis_history
	`
	if starredOnly {
		query += " WHERE is_starred = 1"
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return rows, nil
}

// ScanHistoryRows scans the current row of StreamHistory.
func ScanHistoryRows(rows *sql.Rows) (*HistoryItem, error) {
	return scanHistory(rows)
}

// SetStarred sets the starred flag of a history item.
func SetStarred(ctx context.Context, db *sql.DB, id string, starred bool) error {
	result, err := db.ExecContext(ctx, `UPDATE analysis_history SET is_starred = ? WHERE id = ?`, starred, id)
	if err != nil {
		return errors.NewInternal(err)
	}
	return requireAffected(result, "history item", id)
}

// DeleteHistory permanently removes a history item.
func DeleteHistory(ctx context.Context, db *sql.DB, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM analysis_history WHERE id = ?`, id)
	if err != nil {
		return errors.NewInternal(err)
	}
	return requireAffected(result, "history item", id)
}

func scanHistory(row rowScanner) (*HistoryItem, error) {
	var (
		h              HistoryItem
		productName    sql.NullString
		verdict        string
		transcriptJSON string
	)

	err := row.Scan(
		&h.ID, &h.SessionID, &productName, &h.IngredientsText, &verdict,
		&h.Result.WhatStoodOut, &h.Result.WhyMatters, &h.Result.WhatsUncertain, &h.Result.BottomLine,
		&h.IsStarred, &transcriptJSON, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	h.ProductName = fromNullString(productName)
	h.Result.Verdict = analysis.Verdict(verdict)
	if err := json.Unmarshal([]byte(transcriptJSON), &h.Transcript); err != nil {
		return nil, err
	}
	if h.Transcript == nil {
		h.Transcript = []analysis.Turn{}
	}

	return &h, nil
}

// requireAffected maps a zero-row update or delete to NOT_FOUND.
func requireAffected(result sql.Result, kind, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound(kind, id)
	}
	return nil
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts a sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
