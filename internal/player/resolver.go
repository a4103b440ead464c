// Package player resolves tracker actors to stored players.
package player

import (
	"fmt"

	"github.com/rs/zerolog"

	qerrors "github.com/q-forge/questbot/internal/errors"
	"github.com/q-forge/questbot/internal/models"
	"github.com/q-forge/questbot/internal/store"
	"github.com/q-forge/questbot/internal/xp"
)

// Resolver maps the actor identity on an inbound event to a player row,
// provisioning a placeholder when no existing player matches.
type Resolver struct {
	store  *store.Store
	logger zerolog.Logger
}

// NewResolver creates a resolver backed by the given store.
func NewResolver(s *store.Store, logger zerolog.Logger) *Resolver {
	return &Resolver{
		store:  s,
		logger: logger.With().Str("component", "player-resolver").Logger(),
	}
}

// Resolve finds the player for an actor, trying identifiers from most to
// least specific: username, account id, email, then display name
// (case-insensitive). When nothing matches, a player is auto-provisioned so
// XP is never dropped on the floor; created reports whether that happened.
func (r *Resolver) Resolve(actor models.Actor) (p *models.Player, created bool, err error) {
	if actor.Empty() {
		return nil, false, fmt.Errorf("resolve player: %w", qerrors.ErrBadRequest)
	}

	if actor.Username != "" {
		if p, err = r.store.GetPlayer(actor.Username); err != nil {
			return nil, false, err
		}
		if p != nil {
			return p, false, nil
		}
	}
	if actor.AccountID != "" {
		if p, err = r.store.FindPlayerByAccountID(actor.AccountID); err != nil {
			return nil, false, err
		}
		if p != nil {
			return p, false, nil
		}
	}
	if actor.Email != "" {
		if p, err = r.store.FindPlayerByEmail(actor.Email); err != nil {
			return nil, false, err
		}
		if p != nil {
			return p, false, nil
		}
	}
	if actor.DisplayName != "" {
		if p, err = r.store.FindPlayerByDisplayName(actor.DisplayName); err != nil {
			return nil, false, err
		}
		if p != nil {
			return p, false, nil
		}
	}

	p, err = r.provision(actor)
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// provision creates a placeholder player keyed on the best identifier the
// actor carries. The row stays auto-created until someone registers it from
// Slack, at which point BindSlackUser clears the flag.
func (r *Resolver) provision(actor models.Actor) (*models.Player, error) {
	key := actor.Username
	if key == "" {
		key = actor.AccountID
	}
	if key == "" {
		key = actor.Email
	}
	if key == "" {
		return nil, fmt.Errorf("provision player: no usable identifier: %w", qerrors.ErrBadRequest)
	}

	displayName := actor.DisplayName
	if displayName == "" {
		displayName = key
	}

	p := &models.Player{
		Key:              key,
		TrackerAccountID: actor.AccountID,
		Email:            actor.Email,
		DisplayName:      displayName,
		Level:            1,
		CurrentTitle:     xp.TitleFor(1),
		AutoCreated:      true,
	}
	if err := r.store.CreatePlayer(p); err != nil {
		return nil, fmt.Errorf("provision player %s: %w", key, err)
	}

	r.logger.Info().
		Str("player", key).
		Str("display_name", displayName).
		Msg("auto-provisioned player")
	return p, nil
}
