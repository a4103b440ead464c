package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/q-forge/questbot/internal/requestid"
)

// Server exposes the Slack request surface over HTTP: slash commands and
// the Events API (DMs, App Home opens). Every request is verified against
// the signing secret before any parsing.
type Server struct {
	signingSecret string
	commands      *CommandHandler
	responder     *Responder
	home          *HomeUpdater
	logger        zerolog.Logger
}

// NewServer creates the Slack HTTP surface.
func NewServer(signingSecret string, commands *CommandHandler, responder *Responder, home *HomeUpdater, logger zerolog.Logger) *Server {
	return &Server{
		signingSecret: signingSecret,
		commands:      commands,
		responder:     responder,
		home:          home,
		logger:        logger.With().Str("component", "slack.server").Logger(),
	}
}

// Register attaches the Slack routes to a mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/slack/commands", s.handleCommand)
	mux.HandleFunc("/slack/events", s.handleEvent)
}

// verify checks the v0 request signature and returns the raw body. The
// body must be read before verification and restored for form parsing.
func (s *Server) verify(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return nil, false
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	verifier, err := slack.NewSecretsVerifier(r.Header, s.signingSecret)
	if err != nil {
		s.logger.Warn().Err(err).Msg("signature headers missing")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	verifier.Write(body)
	if err := verifier.Ensure(); err != nil {
		s.logger.Warn().Err(err).Msg("signature mismatch")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	return body, true
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.verify(w, r); !ok {
		return
	}

	cmd, err := slack.SlashCommandParse(r)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	ctx := requestid.WithRequestID(r.Context(), requestid.New("slack"))
	resp := s.commands.Handle(ctx, cmd)

	payload := map[string]interface{}{
		"response_type": "ephemeral",
	}
	if resp.InChannel {
		payload["response_type"] = "in_channel"
	}
	if resp.Text != "" {
		payload["text"] = resp.Text
	}
	if len(resp.Blocks) > 0 {
		payload["blocks"] = resp.Blocks
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode command response")
	}
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, ok := s.verify(w, r)
	if !ok {
		return
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(challenge.Challenge))
		return

	case slackevents.CallbackEvent:
		// Ack before doing any work; Slack retries slow responses.
		w.WriteHeader(http.StatusOK)
		go s.dispatch(event.InnerEvent)
		return

	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) dispatch(inner slackevents.EventsAPIInnerEvent) {
	ctx := requestid.WithRequestID(context.Background(), requestid.New("slack"))

	switch ev := inner.Data.(type) {
	case *slackevents.MessageEvent:
		// Only human DMs; bot echoes and edits carry a subtype or no user.
		if ev.User == "" || ev.SubType != "" || ev.ChannelType != "im" || ev.BotID != "" {
			return
		}
		if s.responder != nil {
			s.responder.HandleMessage(ctx, ev.User, ev.Channel, ev.Text, ev.TimeStamp)
		}

	case *slackevents.AppHomeOpenedEvent:
		if s.home != nil {
			s.home.RefreshUser(ev.User)
		}

	default:
		s.logger.Debug().Str("type", inner.Type).Msg("unhandled event type")
	}
}
