package usage

import (
	"context"
	"fmt"

	"github.com/goodtune/screentime/internal/storage"
	"github.com/rs/zerolog"
)

// Directory answers ownership questions from the local profile registry
type Directory struct {
	profiles storage.ProfileStore
	logger   zerolog.Logger
}

// NewDirectory creates a directory over the profile store
func NewDirectory(profiles storage.ProfileStore, logger zerolog.Logger) *Directory {
	return &Directory{
		profiles: profiles,
		logger:   logger.With().Str("component", "directory").Logger(),
	}
}

// Profile loads a profile
func (d *Directory) Profile(ctx context.Context, profileID string) (*storage.Profile, error) {
	p, err := d.profiles.Get(ctx, profileID)
	if err != nil {
		return nil, lookupError("profile", profileID, err)
	}
	return p, nil
}

// Authorize loads the profile and checks the caller owns it. Device tokens
// bound to a profile only own that profile.
func (d *Directory) Authorize(ctx context.Context, caller Caller, profileID string) (*storage.Profile, error) {
	p, err := d.Profile(ctx, profileID)
	if err != nil {
		return nil, err
	}

	if p.AccountID != caller.AccountID || (caller.ProfileID != "" && caller.ProfileID != p.ID) {
		d.logger.Warn().
			Str("account_id", caller.AccountID).
			Str("token_profile_id", caller.ProfileID).
			Str("profile_id", profileID).
			Msg("Caller does not own profile")
		return nil, fmt.Errorf("%w: profile %s", ErrForbidden, profileID)
	}
	return p, nil
}

// LimitedProfiles lists the account's profiles that are subject to budgets
func (d *Directory) LimitedProfiles(ctx context.Context, accountID string) ([]storage.Profile, error) {
	all, err := d.profiles.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles for account %s: %w", accountID, err)
	}

	limited := make([]storage.Profile, 0, len(all))
	for _, p := range all {
		if p.Limited {
			limited = append(limited, p)
		}
	}
	return limited, nil
}
