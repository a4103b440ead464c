package jira

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestServer(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	client := NewClient(server.URL, "bot@example.com", "token", zerolog.Nop())
	client.SetHTTPClient(server.Client())
	return client, server
}

func TestClient_SearchUsers(t *testing.T) {
	client, server := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/rest/api/2/user/search")
		assert.Equal(t, "frodo", r.URL.Query().Get("username"))
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "bot@example.com", user)
		assert.Equal(t, "token", pass)
		json.NewEncoder(w).Encode([]User{{Name: "frodo", DisplayName: "Frodo Baggins"}})
	})
	defer server.Close()

	users, err := client.SearchUsers(context.Background(), "frodo")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "frodo", users[0].Name)
}

func TestClient_ValidateUsername(t *testing.T) {
	client, server := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]User{{Name: "frodo"}})
	})
	defer server.Close()

	ok, err := client.ValidateUsername(context.Background(), "FRODO")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.ValidateUsername(context.Background(), "sauron")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_SearchDoneIssues(t *testing.T) {
	client, server := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/rest/api/2/search")
		jql := r.URL.Query().Get("jql")
		assert.Contains(t, jql, "assignee = currentUser()")
		assert.Contains(t, jql, `status = "Done"`)
		assert.Contains(t, r.URL.Query().Get("fields"), "resolutiondate")
		json.NewEncoder(w).Encode(SearchResult{
			Total:  1,
			Issues: []Issue{{Key: "PROJ-1", Fields: IssueFields{Summary: "Quest"}}},
		})
	})
	defer server.Close()

	result, err := client.SearchDoneIssues(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, "PROJ-1", result.Issues[0].Key)
}

func TestClient_ErrorStatus(t *testing.T) {
	client, server := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"errorMessages":["bad credentials"]}`))
	})
	defer server.Close()

	_, err := client.SearchDoneIssues(context.Background(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestClient_TicketURL(t *testing.T) {
	client := NewClient("https://example.atlassian.net/", "e", "t", zerolog.Nop())
	assert.Equal(t, "https://example.atlassian.net/browse/PROJ-7", client.TicketURL("PROJ-7"))
}
