package ingress

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/q-forge/questbot/internal/metrics"
	"github.com/q-forge/questbot/internal/models"
	"github.com/q-forge/questbot/internal/pipeline"
)

const testSecret = "webhook-shared-secret"

type captureProcessor struct {
	events chan *models.IssueEvent
}

func (c *captureProcessor) Process(_ context.Context, ev *models.IssueEvent) pipeline.Outcome {
	c.events <- ev
	return pipeline.Outcome{}
}

func newTestIngress(t *testing.T) (*Server, *captureProcessor, *http.ServeMux) {
	t.Helper()
	proc := &captureProcessor{events: make(chan *models.IssueEvent, 4)}
	srv := NewServer(testSecret, 5*time.Minute, proc, metrics.New(), zerolog.Nop())
	mux := http.NewServeMux()
	srv.Register(mux)
	return srv, proc, mux
}

func sign(req *http.Request, body, secret string, ts int64) {
	base := fmt.Sprintf("v0:%d:%s", ts, body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	req.Header.Set(HeaderTimestamp, fmt.Sprintf("%d", ts))
	req.Header.Set(HeaderSignature, "v0="+hex.EncodeToString(mac.Sum(nil)))
}

const webhookBody = `{
	"webhookEvent": "jira:issue_updated",
	"issue_event_type_name": "issue_generic",
	"issue": {
		"key": "PROJ-42",
		"fields": {
			"summary": "Fix login redirect",
			"status": {"name": "Done"},
			"issuetype": {"name": "Story"},
			"project": {"key": "PROJ"},
			"assignee": {"name": "frodo", "displayName": "Frodo Baggins"}
		}
	},
	"changelog": {"items": [{"field": "status", "fromString": "In Progress", "toString": "Done"}]}
}`

func postWebhook(mux *http.ServeMux, body string, secret string, ts int64) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/jira", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	sign(req, body, secret, ts)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestWebhook_ValidSignature(t *testing.T) {
	_, proc, mux := newTestIngress(t)

	rec := postWebhook(mux, webhookBody, testSecret, time.Now().Unix())
	assert.Equal(t, http.StatusOK, rec.Code)

	select {
	case ev := <-proc.events:
		assert.Equal(t, "PROJ-42", ev.IssueKey)
		assert.Equal(t, "In Progress", ev.FromStatus)
		assert.Equal(t, "Done", ev.ToStatus)
		assert.Equal(t, "frodo", ev.Assignee.Username)
	case <-time.After(2 * time.Second):
		t.Fatal("event never reached the processor")
	}
}

func TestWebhook_BadSignature(t *testing.T) {
	_, proc, mux := newTestIngress(t)

	rec := postWebhook(mux, webhookBody, "wrong-secret", time.Now().Unix())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, proc.events)
}

func TestWebhook_MissingHeaders(t *testing.T) {
	_, _, mux := newTestIngress(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook/jira", strings.NewReader(webhookBody))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhook_ReplayedTimestampRejected(t *testing.T) {
	_, proc, mux := newTestIngress(t)

	// Correctly signed, but six minutes old.
	rec := postWebhook(mux, webhookBody, testSecret, time.Now().Add(-6*time.Minute).Unix())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, proc.events)
}

func TestWebhook_FutureTimestampRejected(t *testing.T) {
	_, _, mux := newTestIngress(t)

	rec := postWebhook(mux, webhookBody, testSecret, time.Now().Add(10*time.Minute).Unix())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhook_TamperedBodyRejected(t *testing.T) {
	_, _, mux := newTestIngress(t)

	ts := time.Now().Unix()
	req := httptest.NewRequest(http.MethodPost, "/webhook/jira", strings.NewReader(webhookBody))
	sign(req, webhookBody, testSecret, ts)
	// Signature was computed over the original body; swap it out.
	tampered := strings.Replace(webhookBody, "PROJ-42", "PROJ-99", 1)
	req.Body = httptest.NewRequest(http.MethodPost, "/webhook/jira", strings.NewReader(tampered)).Body

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhook_BadJSON(t *testing.T) {
	_, _, mux := newTestIngress(t)

	rec := postWebhook(mux, "{not json", testSecret, time.Now().Unix())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhook_NonIssueEventIgnored(t *testing.T) {
	_, proc, mux := newTestIngress(t)

	rec := postWebhook(mux, `{"webhookEvent":"comment_created"}`, testSecret, time.Now().Unix())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, proc.events)
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	_, _, mux := newTestIngress(t)

	req := httptest.NewRequest(http.MethodGet, "/webhook/jira", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
