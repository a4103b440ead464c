package slack

import (
	"github.com/rs/zerolog"

	"github.com/q-forge/questbot/internal/models"
	"github.com/q-forge/questbot/internal/store"
)

const homeStoryCount = 5

// HomeUpdater rebuilds and publishes a player's App Home dashboard.
type HomeUpdater struct {
	store  *store.Store
	client *Client
	logger zerolog.Logger
}

// NewHomeUpdater creates a home updater.
func NewHomeUpdater(s *store.Store, client *Client, logger zerolog.Logger) *HomeUpdater {
	return &HomeUpdater{
		store:  s,
		client: client,
		logger: logger.With().Str("component", "slack.home").Logger(),
	}
}

// RefreshUser publishes the dashboard for a Slack user id. Unregistered
// users get the welcome view.
func (u *HomeUpdater) RefreshUser(slackUserID string) {
	p, err := u.store.FindPlayerBySlackID(slackUserID)
	if err != nil {
		u.logger.Error().Err(err).Str("user", slackUserID).Msg("home refresh lookup failed")
		return
	}
	u.publish(slackUserID, p)
}

// RefreshPlayer publishes the dashboard for a player after a pipeline run.
// Players without a bound Slack account are skipped.
func (u *HomeUpdater) RefreshPlayer(p *models.Player) {
	if p == nil || p.SlackUserID == "" {
		return
	}
	u.publish(p.SlackUserID, p)
}

func (u *HomeUpdater) publish(slackUserID string, p *models.Player) {
	var stories []*models.Story
	var guilds []*models.Guild
	if p != nil {
		var err error
		if stories, err = u.store.GetStoriesByPlayer(p.Key, homeStoryCount); err != nil {
			u.logger.Warn().Err(err).Str("player", p.Key).Msg("home stories unavailable")
		}
		if guilds, err = u.store.ListActiveGuilds(); err != nil {
			u.logger.Warn().Err(err).Msg("home guilds unavailable")
		}
	}

	if err := u.client.PublishHome(slackUserID, HomeView(p, stories, guilds)); err != nil {
		u.logger.Warn().Err(err).Str("user", slackUserID).Msg("home publish failed")
	}
}
