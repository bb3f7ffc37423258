package db

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/hpungsan/morsel/internal/analysis"
	"github.com/hpungsan/morsel/internal/errors"
)

// Profile is a stored dietary profile. At most one profile is active.
type Profile struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	IsActive     bool     `json:"is_active"`
	Restrictions []string `json:"restrictions"`
	Allergies    []string `json:"allergies"`
	Preferences  []string `json:"preferences"`
	CreatedAt    int64    `json:"created_at"`
	UpdatedAt    int64    `json:"updated_at"`
}

// Dietary returns the profile's lists in the form used to personalize analyses.
func (p *Profile) Dietary() *analysis.Profile {
	return &analysis.Profile{
		Restrictions: append([]string(nil), p.Restrictions...),
		Allergies:    append([]string(nil), p.Allergies...),
		Preferences:  append([]string(nil), p.Preferences...),
	}
}

const profileColumns = `id, name, is_active, restrictions_json, allergies_json, preferences_json, created_at, updated_at`

// InsertProfile stores a new, inactive profile.
func InsertProfile(ctx context.Context, db *sql.DB, p *Profile) error {
	restrictions, allergies, preferences, err := marshalLists(p)
	if err != nil {
		return errors.NewInternal(err)
	}

	query := `
		INSERT INTO dietary_profiles (` + profileColumns + `)
		VALUES (?, ?, 0, ?, ?, ?, ?, ?)
	`
	if _, err := db.ExecContext(ctx, query,
		p.ID, p.Name, restrictions, allergies, preferences, p.CreatedAt, p.UpdatedAt,
	); err != nil {
		return errors.NewInternal(err)
	}
	p.IsActive = false
	return nil
}

// GetProfile retrieves a profile by its ULID.
func GetProfile(ctx context.Context, db *sql.DB, id string) (*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM dietary_profiles WHERE id = ?`

	p, err := scanProfile(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("profile", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return p, nil
}

// GetActiveProfile returns the active profile, or nil when none is active.
func GetActiveProfile(ctx context.Context, db *sql.DB) (*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM dietary_profiles WHERE is_active = 1`

	p, err := scanProfile(db.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return p, nil
}

// ListProfiles returns all profiles, newest first.
func ListProfiles(ctx context.Context, db *sql.DB) ([]Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM dietary_profiles ORDER BY created_at DESC, id DESC`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// UpdateProfile replaces the name and lists of an existing profile.
// Does NOT change: id, is_active, created_at
func UpdateProfile(ctx context.Context, db *sql.DB, p *Profile) error {
	restrictions, allergies, preferences, err := marshalLists(p)
	if err != nil {
		return errors.NewInternal(err)
	}

	query := `
		UPDATE dietary_profiles
		SET name = ?, restrictions_json = ?, allergies_json = ?, preferences_json = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := db.ExecContext(ctx, query, p.Name, restrictions, allergies, preferences, p.UpdatedAt, p.ID)
	if err != nil {
		return errors.NewInternal(err)
	}
	return requireAffected(result, "profile", p.ID)
}

// ActivateProfile makes id the only active profile.
func ActivateProfile(ctx context.Context, db *sql.DB, id string, now int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `UPDATE dietary_profiles SET is_active = 0 WHERE is_active = 1`); err != nil {
		return errors.NewInternal(err)
	}
	result, err := tx.ExecContext(ctx, `UPDATE dietary_profiles SET is_active = 1, updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return errors.NewInternal(err)
	}
	if err := requireAffected(result, "profile", id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// DeactivateProfiles clears the active profile, if any.
func DeactivateProfiles(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `UPDATE dietary_profiles SET is_active = 0 WHERE is_active = 1`); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// DeleteProfile permanently removes a profile.
func DeleteProfile(ctx context.Context, db *sql.DB, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM dietary_profiles WHERE id = ?`, id)
	if err != nil {
		return errors.NewInternal(err)
	}
	return requireAffected(result, "profile", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	var (
		p                                 Profile
		restrictions, allergies, prefJSON string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.IsActive, &restrictions, &allergies, &prefJSON, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		raw  string
		dest *[]string
	}{
		{restrictions, &p.Restrictions},
		{allergies, &p.Allergies},
		{prefJSON, &p.Preferences},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dest); err != nil {
			return nil, err
		}
		if *f.dest == nil {
			*f.dest = []string{}
		}
	}
	return &p, nil
}

func marshalLists(p *Profile) (restrictions, allergies, preferences string, err error) {
	encode := func(items []string) (string, error) {
		if items == nil {
			items = []string{}
		}
		data, err := json.Marshal(items)
		return string(data), err
	}
	if restrictions, err = encode(p.Restrictions); err != nil {
		return
	}
	if allergies, err = encode(p.Allergies); err != nil {
		return
	}
	preferences, err = encode(p.Preferences)
	return
}
