// ABOUTME: HTTP API tests for the gateway using httptest and an in-memory store
// ABOUTME: Covers auth gating, lifecycle endpoints, conflict payloads, and messaging

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mart-code/first-aid-app/internal/config"
)

const testSecret = "gateway-test-secret"

func newTestGateway(t *testing.T) (*Gateway, *httptest.Server) {
	t.Helper()

	cfg := &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Path: ":memory:"},
		Auth:     config.AuthConfig{JWTSecret: testSecret},
	}

	g, err := New(t.Context(), cfg, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = g.Shutdown(shutdownCtx)
	})

	server := httptest.NewServer(g.routes())
	t.Cleanup(server.Close)
	return g, server
}

func token(t *testing.T, g *Gateway, userID string, admin bool) string {
	t.Helper()
	tok, err := g.verifier.Generate(userID, admin, time.Hour)
	require.NoError(t, err)
	return tok
}

func doJSON(t *testing.T, method, url, bearer string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthEndpoints(t *testing.T) {
	_, server := newTestGateway(t)

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(server.URL + "/health/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_RequiresAuth(t *testing.T) {
	_, server := newTestGateway(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/requests", "", CreateRequestBody{Category: "doctor"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateAndGetRequest(t *testing.T) {
	g, server := newTestGateway(t)
	userToken := token(t, g, "alice", false)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/requests", userToken, CreateRequestBody{Category: "doctor"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[RequestResponse](t, resp)
	assert.Equal(t, "alice", created.RequesterID)
	assert.Equal(t, "open", created.Status)
	assert.Empty(t, created.AdminID)

	resp = doJSON(t, http.MethodGet, server.URL+"/api/requests/"+created.ID, userToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[RequestResponse](t, resp)
	assert.Equal(t, created.ID, got.ID)
}

func TestCreateRequest_UnknownCategory(t *testing.T) {
	g, server := newTestGateway(t)
	userToken := token(t, g, "alice", false)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/requests", userToken, CreateRequestBody{Category: "plumber"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetRequest_NotFound(t *testing.T) {
	g, server := newTestGateway(t)
	userToken := token(t, g, "alice", false)

	resp := doJSON(t, http.MethodGet, server.URL+"/api/requests/missing", userToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListRequests_AdminOnly(t *testing.T) {
	g, server := newTestGateway(t)
	userToken := token(t, g, "alice", false)
	adminToken := token(t, g, "responder-1", true)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/requests", userToken, CreateRequestBody{Category: "accident"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, server.URL+"/api/requests", userToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, server.URL+"/api/requests?category=accident", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listed := decodeBody[[]RequestResponse](t, resp)
	require.Len(t, listed, 1)
	assert.Equal(t, "accident", listed[0].Category)
}

func TestClaimRequest(t *testing.T) {
	g, server := newTestGateway(t)
	userToken := token(t, g, "alice", false)
	adminToken := token(t, g, "responder-1", true)
	rivalToken := token(t, g, "responder-2", true)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/requests", userToken, CreateRequestBody{Category: "doctor"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[RequestResponse](t, resp)

	claimURL := fmt.Sprintf("%s/api/requests/%s/claim", server.URL, created.ID)

	// Requester role cannot claim.
	resp = doJSON(t, http.MethodPost, claimURL, userToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// First responder wins.
	resp = doJSON(t, http.MethodPost, claimURL, adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	claimed := decodeBody[RequestResponse](t, resp)
	assert.Equal(t, "accepted", claimed.Status)
	assert.Equal(t, "responder-1", claimed.AdminID)

	// Second responder gets a conflict carrying the winner.
	resp = doJSON(t, http.MethodPost, claimURL, rivalToken, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	conflict := decodeBody[ConflictResponse](t, resp)
	require.NotNil(t, conflict.Current)
	assert.Equal(t, "responder-1", conflict.Current.AdminID)
}

func TestClaimRequest_NotFound(t *testing.T) {
	g, server := newTestGateway(t)
	adminToken := token(t, g, "responder-1", true)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/requests/missing/claim", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCloseRequest(t *testing.T) {
	g, server := newTestGateway(t)
	userToken := token(t, g, "alice", false)
	strangerToken := token(t, g, "mallory", false)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/requests", userToken, CreateRequestBody{Category: "doctor"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[RequestResponse](t, resp)

	closeURL := fmt.Sprintf("%s/api/requests/%s/close", server.URL, created.ID)

	// Non-participants may not close.
	resp = doJSON(t, http.MethodPost, closeURL, strangerToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// The requester cancels their own open request.
	resp = doJSON(t, http.MethodPost, closeURL, userToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	closed := decodeBody[RequestResponse](t, resp)
	assert.Equal(t, "closed", closed.Status)

	// Closing again conflicts: closed is terminal.
	resp = doJSON(t, http.MethodPost, closeURL, userToken, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestMessages_AppendAndHistory(t *testing.T) {
	g, server := newTestGateway(t)
	aliceToken := token(t, g, "alice", false)
	bobToken := token(t, g, "bob", false)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/messages", aliceToken, SendMessageBody{
		ReceiverID: "bob",
		Body:       "hello",
		DedupToken: "tok-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := decodeBody[MessageResponse](t, resp)
	assert.Equal(t, "alice", first.SenderID)

	// Replaying the same dedup token returns the original message.
	resp = doJSON(t, http.MethodPost, server.URL+"/api/messages", aliceToken, SendMessageBody{
		ReceiverID: "bob",
		Body:       "hello",
		DedupToken: "tok-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	replay := decodeBody[MessageResponse](t, resp)
	assert.Equal(t, first.ID, replay.ID)

	resp = doJSON(t, http.MethodPost, server.URL+"/api/messages", bobToken, SendMessageBody{
		ReceiverID: "alice",
		Body:       "hi back",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Both sides see the same two-message history.
	for _, bearer := range []string{aliceToken, bobToken} {
		peer := "bob"
		if bearer == bobToken {
			peer = "alice"
		}
		resp = doJSON(t, http.MethodGet, server.URL+"/api/messages?peer="+peer, bearer, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		page := decodeBody[MessagePageResponse](t, resp)
		require.Len(t, page.Messages, 2)
		assert.Equal(t, "hi back", page.Messages[0].Body) // newest first
	}
}

func TestMessages_Validation(t *testing.T) {
	g, server := newTestGateway(t)
	aliceToken := token(t, g, "alice", false)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/messages", aliceToken, SendMessageBody{Body: "no receiver"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, server.URL+"/api/messages", aliceToken, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
