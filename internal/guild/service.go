// Package guild implements guild lifecycle, membership rules and the
// event-to-guild matcher.
package guild

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	qerrors "github.com/q-forge/questbot/internal/errors"
	"github.com/q-forge/questbot/internal/models"
	"github.com/q-forge/questbot/internal/store"
)

// Service enforces the guild business rules on top of the store: unique
// names and channels, capacity, leader-before-leave, and auto-deactivation
// when the last member walks out.
type Service struct {
	store             *store.Store
	defaultMaxMembers int
	logger            zerolog.Logger
}

// NewService creates the guild service.
func NewService(s *store.Store, defaultMaxMembers int, logger zerolog.Logger) *Service {
	return &Service{
		store:             s,
		defaultMaxMembers: defaultMaxMembers,
		logger:            logger.With().Str("component", "guild").Logger(),
	}
}

// CreateParams carries the caller-supplied fields for a new guild.
type CreateParams struct {
	Name       string
	ChannelID  string
	LeaderKey  string
	Components []string
	Labels     []string
	ProjectKey string
	MaxMembers int
}

// Create creates a guild with the caller as leader. Name must be unique
// among active guilds; the channel binding is unique across all guilds,
// active or not.
func (s *Service) Create(p CreateParams) (*models.Guild, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" || p.ChannelID == "" || p.LeaderKey == "" {
		return nil, fmt.Errorf("guild create: name, channel and leader are required: %w", qerrors.ErrBadRequest)
	}
	if p.MaxMembers <= 0 {
		p.MaxMembers = s.defaultMaxMembers
	}

	g := &models.Guild{
		Name:          p.Name,
		ChannelID:     p.ChannelID,
		LeaderKey:     p.LeaderKey,
		Components:    p.Components,
		Labels:        p.Labels,
		ProjectKey:    p.ProjectKey,
		MaxMembers:    p.MaxMembers,
		AllowAutoJoin: true,
		CreatedBy:     p.LeaderKey,
	}
	if err := s.store.CreateGuild(g); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("guild", g.Name).
		Str("channel", g.ChannelID).
		Str("leader", g.LeaderKey).
		Msg("guild created")
	return s.store.GetGuild(g.ID)
}

// Join adds a player to an active guild by name.
func (s *Service) Join(name, playerKey string) (*models.Guild, error) {
	g, err := s.store.GetGuildByName(name)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, fmt.Errorf("guild %q: %w", name, qerrors.ErrNotFound)
	}
	if err := s.store.AddMember(g.ID, playerKey, models.RoleMember); err != nil {
		return nil, err
	}
	return s.store.GetGuild(g.ID)
}

// Leave removes a player from a guild. A leader with other members present
// must transfer leadership first; when the leader is the last member the
// guild is deactivated instead.
func (s *Service) Leave(name, playerKey string) error {
	g, err := s.store.GetGuildByName(name)
	if err != nil {
		return err
	}
	if g == nil {
		return fmt.Errorf("guild %q: %w", name, qerrors.ErrNotFound)
	}
	if !g.HasMember(playerKey) {
		return fmt.Errorf("player %s not in guild %q: %w", playerKey, name, qerrors.ErrNotFound)
	}

	if g.LeaderKey == playerKey {
		if len(g.Members) > 1 {
			return qerrors.ErrLeaderLeave
		}
		// Last member out: the guild winds down.
		s.logger.Info().Str("guild", g.Name).Msg("last member left, deactivating guild")
		return s.store.DeactivateGuild(g.ID)
	}
	return s.store.RemoveMember(g.ID, playerKey)
}

// TransferLeadership hands the leader role to another member. Only the
// current leader may initiate.
func (s *Service) TransferLeadership(name, fromKey, toKey string) (*models.Guild, error) {
	g, err := s.store.GetGuildByName(name)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, fmt.Errorf("guild %q: %w", name, qerrors.ErrNotFound)
	}
	if err := s.store.TransferLeadership(g.ID, fromKey, toKey); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("guild", g.Name).
		Str("from", fromKey).
		Str("to", toKey).
		Msg("leadership transferred")
	return s.store.GetGuild(g.ID)
}

// Rename changes an active guild's name. Leader only.
func (s *Service) Rename(name, newName, actorKey string) (*models.Guild, error) {
	g, err := s.store.GetGuildByName(name)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, fmt.Errorf("guild %q: %w", name, qerrors.ErrNotFound)
	}
	if g.LeaderKey != actorKey {
		return nil, qerrors.ErrNotLeader
	}
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return nil, fmt.Errorf("guild rename: new name required: %w", qerrors.ErrBadRequest)
	}
	if err := s.store.RenameGuild(g.ID, newName); err != nil {
		return nil, err
	}
	return s.store.GetGuild(g.ID)
}

// Disband deactivates a guild. Leader only.
func (s *Service) Disband(name, actorKey string) error {
	g, err := s.store.GetGuildByName(name)
	if err != nil {
		return err
	}
	if g == nil {
		return fmt.Errorf("guild %q: %w", name, qerrors.ErrNotFound)
	}
	if g.LeaderKey != actorKey {
		return qerrors.ErrNotLeader
	}
	s.logger.Info().Str("guild", g.Name).Str("by", actorKey).Msg("guild disbanded")
	return s.store.DeactivateGuild(g.ID)
}

// Get returns an active guild by name.
func (s *Service) Get(name string) (*models.Guild, error) {
	return s.store.GetGuildByName(name)
}

// List returns all active guilds.
func (s *Service) List() ([]*models.Guild, error) {
	return s.store.ListActiveGuilds()
}

// RecordCompletion bumps the completed-ticket counter on each guild.
func (s *Service) RecordCompletion(guildIDs []int64) {
	for _, id := range guildIDs {
		if err := s.store.IncrementGuildTickets(id); err != nil {
			s.logger.Warn().Err(err).Int64("guild_id", id).Msg("failed to record guild completion")
		}
	}
}
