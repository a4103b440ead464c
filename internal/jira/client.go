package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	qerrors "github.com/q-forge/questbot/internal/errors"
)

// Fields requested on JQL searches for the conversational responder.
var searchFields = []string{
	"summary", "description", "status", "assignee", "reporter",
	"created", "resolutiondate", "issuetype", "priority", "project",
	"components", "labels", "comments", "timeoriginalestimate", "timespent",
}

// HTTPClient abstracts HTTP calls for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client wraps the Jira REST API.
type Client struct {
	baseURL    string
	email      string
	apiToken   string
	httpClient HTTPClient
	logger     zerolog.Logger
}

// NewClient creates a new Jira API client using basic auth.
func NewClient(baseURL, email, apiToken string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		email:      email,
		apiToken:   apiToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With().Str("component", "jira").Logger(),
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(hc HTTPClient) {
	c.httpClient = hc
}

// BaseURL returns the base URL of the Jira instance.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// TicketURL builds the browse link for a ticket key.
func (c *Client) TicketURL(key string) string {
	return c.baseURL + "/browse/" + key
}

// do executes an authenticated API request.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.email, c.apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, qerrors.NewAPIError("jira", resp.StatusCode, string(respBody))
	}

	return resp, nil
}

// decodeResponse reads and decodes a JSON response.
func decodeResponse(resp *http.Response, v interface{}) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// SearchUsers looks up tracker users by username or query string.
// Used to validate registrations before binding a Slack identity.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]User, error) {
	q := url.Values{}
	q.Set("username", query)
	q.Set("maxResults", "10")

	resp, err := c.do(ctx, http.MethodGet, "/rest/api/2/user/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("searching users: %w", err)
	}

	var users []User
	if err := decodeResponse(resp, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// ValidateUsername returns true if the tracker knows the username.
func (c *Client) ValidateUsername(ctx context.Context, username string) (bool, error) {
	users, err := c.SearchUsers(ctx, username)
	if err != nil {
		return false, err
	}
	for _, u := range users {
		if strings.EqualFold(u.Name, username) || strings.EqualFold(u.DisplayName, username) {
			return true, nil
		}
	}
	return false, nil
}

// SearchIssues runs a JQL query with the standard field list.
func (c *Client) SearchIssues(ctx context.Context, jql string, maxResults int) (*SearchResult, error) {
	q := url.Values{}
	q.Set("jql", jql)
	q.Set("fields", strings.Join(searchFields, ","))
	q.Set("maxResults", strconv.Itoa(maxResults))

	resp, err := c.do(ctx, http.MethodGet, "/rest/api/2/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("searching issues: %w", err)
	}

	var result SearchResult
	if err := decodeResponse(resp, &result); err != nil {
		return nil, err
	}

	c.logger.Debug().Str("jql", jql).Int("total", result.Total).Msg("jql search")
	return &result, nil
}

// SearchDoneIssues returns recently resolved issues assigned to the
// authenticated user, newest first.
func (c *Client) SearchDoneIssues(ctx context.Context, maxResults int) (*SearchResult, error) {
	jql := `assignee = currentUser() AND status = "Done" ORDER BY resolved DESC`
	return c.SearchIssues(ctx, jql, maxResults)
}
