package usage

import (
	"context"
	"fmt"
	"strconv"

	"github.com/goodtune/screentime/internal/metrics"
	"github.com/goodtune/screentime/internal/notify"
	"github.com/goodtune/screentime/internal/storage"
	"github.com/goodtune/screentime/internal/window"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	minGrantMinutes = 1
	maxGrantMinutes = 480

	// DefaultGrantListLimit bounds grant audit listings
	DefaultGrantListLimit = 50
)

// GrantService applies guardian time extensions and keeps their audit trail
type GrantService struct {
	directory *Directory
	configs   *ConfigService
	balances  storage.BalanceStore
	grants    storage.GrantStore
	publisher notify.Publisher
	clock     window.Clock
	logger    zerolog.Logger
}

// NewGrantService creates a grant service
func NewGrantService(directory *Directory, configs *ConfigService, balances storage.BalanceStore, grants storage.GrantStore, publisher notify.Publisher, clock window.Clock, logger zerolog.Logger) *GrantService {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	return &GrantService{
		directory: directory,
		configs:   configs,
		balances:  balances,
		grants:    grants,
		publisher: publisher,
		clock:     clock,
		logger:    logger.With().Str("component", "grant-service").Logger(),
	}
}

// Grant applies req to the profile's current viewing day and records it
func (g *GrantService) Grant(ctx context.Context, req GrantRequest) (*GrantResult, error) {
	if req.Minutes != nil && (*req.Minutes < minGrantMinutes || *req.Minutes > maxGrantMinutes) {
		return nil, invalid("minutes", "must be between %d and %d, got %d", minGrantMinutes, maxGrantMinutes, *req.Minutes)
	}

	profile, err := g.directory.Profile(ctx, req.ProfileID)
	if err != nil {
		return nil, err
	}

	now := g.clock.Now()
	t, err := currentDay(ctx, g.configs, profile.ID, now)
	if err != nil {
		return nil, err
	}
	day := t.day.String()

	// A grant may be the first write of the day
	if err := g.balances.Increment(ctx, profile.ID, day, 0, false); err != nil {
		return nil, fmt.Errorf("failed to ensure balance: %w", err)
	}
	if err := g.balances.ApplyGrant(ctx, profile.ID, day, req.Minutes); err != nil {
		return nil, fmt.Errorf("failed to apply grant: %w", err)
	}

	grant := storage.Grant{
		ID:              uuid.NewString(),
		ProfileID:       profile.ID,
		IssuerAccountID: req.IssuerAccountID,
		Day:             day,
		GrantedMinutes:  cloneLimit(req.Minutes),
		IsRemote:        req.IsRemote,
		CreatedAt:       now,
	}
	if err := g.grants.Append(ctx, grant); err != nil {
		return nil, fmt.Errorf("failed to record grant: %w", err)
	}

	result := &GrantResult{Grant: grant}
	grantType := "unlimited"
	if req.Minutes == nil {
		result.IsUnlimitedOverride = true
	} else {
		grantType = "minutes"
		b, err := getBalance(ctx, g.balances, profile.ID, day)
		if err != nil {
			return nil, err
		}
		verdict := Evaluate(LimitFor(t.cfg, t.day), b)
		result.RemainingMinutes = verdict.RemainingMinutes()
		result.IsUnlimitedOverride = b != nil && b.UnlimitedOverride
	}

	metrics.GrantsTotal.WithLabelValues(grantType, strconv.FormatBool(req.IsRemote)).Inc()
	event := g.logger.Info().
		Str("grant_id", grant.ID).
		Str("profile_id", profile.ID).
		Str("issuer_account_id", req.IssuerAccountID).
		Str("day", day).
		Bool("remote", req.IsRemote)
	if req.Minutes != nil {
		event = event.Int("minutes", *req.Minutes)
	}
	event.Msg("Grant applied")

	data := map[string]any{"day": day, "is_remote": req.IsRemote, "grant_id": grant.ID}
	if req.Minutes != nil {
		data["minutes"] = *req.Minutes
	}
	publish(ctx, g.publisher, notify.Event{
		Type:       notify.EventGrantIssued,
		ProfileID:  profile.ID,
		OccurredAt: now,
		Data:       data,
	}, g.logger)

	return result, nil
}

// List returns the profile's most recent grants, newest first
func (g *GrantService) List(ctx context.Context, profileID string, limit int) ([]storage.Grant, error) {
	if limit <= 0 {
		limit = DefaultGrantListLimit
	}
	grants, err := g.grants.ListByProfile(ctx, profileID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	return grants, nil
}
