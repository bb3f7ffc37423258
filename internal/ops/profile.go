package ops

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/hpungsan/morsel/internal/analysis"
	"github.com/hpungsan/morsel/internal/db"
	"github.com/hpungsan/morsel/internal/errors"
)

// MaxProfileNameChars bounds profile names.
const MaxProfileNameChars = 100

// ProfileRecord is a stored dietary profile.
type ProfileRecord = db.Profile

// CreateProfileInput contains parameters for the CreateProfile operation.
type CreateProfileInput struct {
	Name         string
	Restrictions []string
	Allergies    []string
	Preferences  []string
	Activate     bool
}

// CreateProfile stores a new profile, optionally making it the active one.
func CreateProfile(ctx context.Context, database *sql.DB, input CreateProfileInput) (*ProfileRecord, error) {
	name, err := validateProfileName(input.Name)
	if err != nil {
		return nil, err
	}
	id, err := generateULID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	now := time.Now().Unix()
	p := &db.Profile{
		ID:           id,
		Name:         name,
		Restrictions: normalizeList(input.Restrictions),
		Allergies:    normalizeList(input.Allergies),
		Preferences:  normalizeList(input.Preferences),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := db.InsertProfile(ctx, database, p); err != nil {
		return nil, err
	}

	if input.Activate {
		if err := db.ActivateProfile(ctx, database, p.ID, now); err != nil {
			return nil, err
		}
		p.IsActive = true
	}
	return p, nil
}

// UpdateProfileInput contains parameters for the UpdateProfile operation.
// Nil fields are left unchanged; an empty non-nil list clears that list.
type UpdateProfileInput struct {
	ID           string
	Name         *string
	Restrictions []string
	Allergies    []string
	Preferences  []string
}

// UpdateProfile changes the name or lists of a profile.
func UpdateProfile(ctx context.Context, database *sql.DB, input UpdateProfileInput) (*ProfileRecord, error) {
	id, err := requireID(input.ID, "profile")
	if err != nil {
		return nil, err
	}
	p, err := db.GetProfile(ctx, database, id)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		name, err := validateProfileName(*input.Name)
		if err != nil {
			return nil, err
		}
		p.Name = name
	}
	if input.Restrictions != nil {
		p.Restrictions = normalizeList(input.Restrictions)
	}
	if input.Allergies != nil {
		p.Allergies = normalizeList(input.Allergies)
	}
	if input.Preferences != nil {
		p.Preferences = normalizeList(input.Preferences)
	}
	p.UpdatedAt = time.Now().Unix()

	if err := db.UpdateProfile(ctx, database, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ActivateProfile makes id the single active profile.
func ActivateProfile(ctx context.Context, database *sql.DB, id string) (*ProfileRecord, error) {
	id, err := requireID(id, "profile")
	if err != nil {
		return nil, err
	}
	if err := db.ActivateProfile(ctx, database, id, time.Now().Unix()); err != nil {
		return nil, err
	}
	return db.GetProfile(ctx, database, id)
}

// DeactivateProfiles clears the active profile so analyses are not personalized.
func DeactivateProfiles(ctx context.Context, database *sql.DB) error {
	return db.DeactivateProfiles(ctx, database)
}

// DeleteProfile permanently removes a profile. Deleting the active profile
// leaves no profile active.
func DeleteProfile(ctx context.Context, database *sql.DB, id string) (*DeleteOutput, error) {
	id, err := requireID(id, "profile")
	if err != nil {
		return nil, err
	}
	if err := db.DeleteProfile(ctx, database, id); err != nil {
		return nil, err
	}
	return &DeleteOutput{Deleted: true, ID: id}, nil
}

// ListProfilesOutput contains the result of the ListProfiles operation.
type ListProfilesOutput struct {
	Items    []ProfileRecord `json:"items"`
	ActiveID *string         `json:"active_id,omitempty"`
}

// ListProfiles returns all profiles, newest first.
func ListProfiles(ctx context.Context, database *sql.DB) (*ListProfilesOutput, error) {
	items, err := db.ListProfiles(ctx, database)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []ProfileRecord{}
	}
	out := &ListProfilesOutput{Items: items}
	for i := range items {
		if items[i].IsActive {
			out.ActiveID = &items[i].ID
			break
		}
	}
	return out, nil
}

// ActiveProfile returns the active profile's lists, or nil when no profile is active.
func ActiveProfile(ctx context.Context, database *sql.DB) (*analysis.Profile, error) {
	p, err := db.GetActiveProfile(ctx, database)
	if err != nil || p == nil {
		return nil, err
	}
	return p.Dietary(), nil
}

// ResolveProfile returns the dietary profile for id, or the active one when id is empty.
func ResolveProfile(ctx context.Context, database *sql.DB, id string) (*analysis.Profile, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return ActiveProfile(ctx, database)
	}
	p, err := db.GetProfile(ctx, database, id)
	if err != nil {
		return nil, err
	}
	return p.Dietary(), nil
}

func validateProfileName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.NewInvalidInput("profile name is required")
	}
	if len([]rune(name)) > MaxProfileNameChars {
		return "", errors.NewInvalidInput("profile name must be at most 100 characters")
	}
	return name, nil
}

// normalizeList trims entries, drops blanks and removes case-insensitive duplicates.
func normalizeList(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		key := strings.ToLower(item)
		if item == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}
