// Package slack renders and delivers quest stories, slash-command replies
// and the App Home dashboard.
package slack

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

// BotAPI abstracts the Slack API client for testing.
type BotAPI interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
	OpenConversation(params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error)
	PublishView(userID string, view slack.HomeTabViewRequest, hash string) (*slack.ViewResponse, error)
	GetConversationInfo(input *slack.GetConversationInfoInput) (*slack.Channel, error)
	AuthTest() (*slack.AuthTestResponse, error)
}

// Client wraps the Slack API with the delivery operations the pipeline and
// command surface need.
type Client struct {
	api    BotAPI
	logger zerolog.Logger
}

// NewClient creates a client from a bot token.
func NewClient(botToken string, logger zerolog.Logger) *Client {
	return &Client{
		api:    slack.New(botToken),
		logger: logger.With().Str("component", "slack").Logger(),
	}
}

// NewClientWithAPI creates a client around an existing API (for testing).
func NewClientWithAPI(api BotAPI, logger zerolog.Logger) *Client {
	return &Client{
		api:    api,
		logger: logger.With().Str("component", "slack").Logger(),
	}
}

// PostBlocks posts a block message to a channel.
func (c *Client) PostBlocks(channelID string, blocks []slack.Block) error {
	_, _, err := c.api.PostMessage(channelID, slack.MsgOptionBlocks(blocks...))
	if err != nil {
		return fmt.Errorf("failed to post to %s: %w", channelID, err)
	}
	return nil
}

// PostText posts a plain text message to a channel.
func (c *Client) PostText(channelID, text string) error {
	_, _, err := c.api.PostMessage(channelID, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("failed to post to %s: %w", channelID, err)
	}
	return nil
}

// DMBlocks opens (or reuses) the IM conversation with a user and posts a
// block message there.
func (c *Client) DMBlocks(userID string, blocks []slack.Block) error {
	channel, _, _, err := c.api.OpenConversation(&slack.OpenConversationParameters{
		Users: []string{userID},
	})
	if err != nil {
		return fmt.Errorf("failed to open DM with %s: %w", userID, err)
	}
	return c.PostBlocks(channel.ID, blocks)
}

// PublishHome pushes the App Home dashboard view for a user.
func (c *Client) PublishHome(userID string, view slack.HomeTabViewRequest) error {
	if _, err := c.api.PublishView(userID, view, ""); err != nil {
		return fmt.Errorf("failed to publish home for %s: %w", userID, err)
	}
	return nil
}

// ChannelExists verifies a channel id resolves in the workspace. Used when
// creating guilds to reject typoed channel references early.
func (c *Client) ChannelExists(channelID string) bool {
	_, err := c.api.GetConversationInfo(&slack.GetConversationInfoInput{ChannelID: channelID})
	return err == nil
}

// Ping verifies the bot token against the auth.test endpoint.
func (c *Client) Ping() error {
	if _, err := c.api.AuthTest(); err != nil {
		return fmt.Errorf("slack auth test failed: %w", err)
	}
	return nil
}
