// Package ingress receives tracker webhooks, authenticates them and hands
// normalized events to the pipeline.
package ingress

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/q-forge/questbot/internal/jira"
	"github.com/q-forge/questbot/internal/metrics"
	"github.com/q-forge/questbot/internal/models"
	"github.com/q-forge/questbot/internal/pipeline"
	"github.com/q-forge/questbot/internal/requestid"
)

// Signature headers on inbound webhooks.
const (
	HeaderSignature = "X-QuestBot-Signature"
	HeaderTimestamp = "X-QuestBot-Request-Timestamp"
)

// Processor consumes normalized events. Implemented by the pipeline.
type Processor interface {
	Process(ctx context.Context, ev *models.IssueEvent) pipeline.Outcome
}

// Server is the webhook HTTP surface. The signature is computed over the
// exact raw request bytes, so the body is read once and never re-encoded
// before verification.
type Server struct {
	secret       []byte
	replayWindow time.Duration
	processor    Processor
	metrics      *metrics.Metrics
	logger       zerolog.Logger

	now func() time.Time
}

// NewServer creates the ingress server.
func NewServer(secret string, replayWindow time.Duration, processor Processor, m *metrics.Metrics, logger zerolog.Logger) *Server {
	return &Server{
		secret:       []byte(secret),
		replayWindow: replayWindow,
		processor:    processor,
		metrics:      m,
		logger:       logger.With().Str("component", "ingress").Logger(),
		now:          time.Now,
	}
}

// Register attaches the webhook route to a mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/webhook/jira", s.handleWebhook)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if !s.verifySignature(r.Header, body) {
		s.metrics.RecordEvent("webhook", "rejected")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var wh jira.WebhookEvent
	if err := json.Unmarshal(body, &wh); err != nil {
		s.metrics.RecordEvent("webhook", "bad_request")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	ev := jira.Normalize(&wh)
	if ev == nil || ev.IssueKey == "" {
		// Authenticated but not an issue event; acknowledge and drop.
		s.metrics.RecordEvent("webhook", "ignored")
		w.WriteHeader(http.StatusOK)
		return
	}

	// Issues with no assignee or reporter still award the acting user.
	if ev.Assignee.Empty() && ev.Reporter.Empty() {
		ev.Reporter = jira.ActorOf(&wh, ev)
	}

	reqID := requestid.New("webhook")
	s.logger.Info().
		Str("request_id", reqID).
		Str("issue", ev.IssueKey).
		Str("kind", ev.Kind).
		Str("to_status", ev.ToStatus).
		Msg("webhook accepted")

	// Ack promptly; the heavy stages run past the response.
	w.WriteHeader(http.StatusOK)
	go func() {
		ctx := requestid.WithRequestID(context.Background(), reqID)
		s.processor.Process(ctx, ev)
	}()
}

// verifySignature checks the v0 HMAC signature and the replay window. The
// base string is "v0:" + timestamp + ":" + raw body; the comparison is
// constant time.
func (s *Server) verifySignature(header http.Header, body []byte) bool {
	sig := header.Get(HeaderSignature)
	ts := header.Get(HeaderTimestamp)
	if sig == "" || ts == "" {
		return false
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	age := s.now().Sub(time.Unix(unix, 0))
	if age > s.replayWindow || age < -s.replayWindow {
		s.logger.Warn().Str("timestamp", ts).Msg("webhook outside replay window")
		return false
	}

	if !strings.HasPrefix(sig, "v0=") {
		return false
	}
	want, err := hex.DecodeString(strings.TrimPrefix(sig, "v0="))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte("v0:" + ts + ":"))
	mac.Write(body)
	return hmac.Equal(want, mac.Sum(nil))
}
