// ABOUTME: HTTP API handlers for assistance requests and conversation messages
// ABOUTME: Maps service errors to status codes; 409 conflicts carry the winning snapshot

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mart-code/first-aid-app/internal/assign"
	"github.com/mart-code/first-aid-app/internal/auth"
	"github.com/mart-code/first-aid-app/internal/request"
	"github.com/mart-code/first-aid-app/internal/store"
)

// CreateRequestBody is the JSON request body for POST /api/requests.
type CreateRequestBody struct {
	Category string `json:"category"`
}

// SendMessageBody is the JSON request body for POST /api/messages.
type SendMessageBody struct {
	ReceiverID string `json:"receiver_id"`
	Body       string `json:"body"`
	DedupToken string `json:"dedup_token,omitempty"`
}

// RequestResponse is the JSON form of a ChatRequest.
type RequestResponse struct {
	ID          string `json:"id"`
	RequesterID string `json:"requester_id"`
	AdminID     string `json:"admin_id,omitempty"`
	Status      string `json:"status"`
	Category    string `json:"category,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// MessageResponse is the JSON form of a Message.
type MessageResponse struct {
	ID         string `json:"id"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	Body       string `json:"body"`
	DedupToken string `json:"dedup_token,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// MessagePageResponse is the JSON response for GET /api/messages.
type MessagePageResponse struct {
	Messages   []MessageResponse `json:"messages"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// ConflictResponse is the JSON body of a 409 on claim or close. Current
// carries the request's present state so losers can render the winner
// without a follow-up fetch.
type ConflictResponse struct {
	Error   string           `json:"error"`
	Current *RequestResponse `json:"current,omitempty"`
}

func requestToResponse(req *store.ChatRequest) *RequestResponse {
	return &RequestResponse{
		ID:          req.ID,
		RequesterID: req.RequesterID,
		AdminID:     req.AdminID,
		Status:      string(req.Status),
		Category:    req.Category,
		CreatedAt:   req.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:   req.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func messageToResponse(msg *store.Message) MessageResponse {
	return MessageResponse{
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Body:       msg.Body,
		DedupToken: msg.DedupToken,
		CreatedAt:  msg.CreatedAt.Format(time.RFC3339Nano),
	}
}

// handleRequests handles POST (create) and GET (list) on /api/requests.
func (g *Gateway) handleRequests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		g.handleCreateRequest(w, r)
	case http.MethodGet:
		g.handleListRequests(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (g *Gateway) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	body, err := parseCreateRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := g.registry.Create(r.Context(), id.UserID, body.Category)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	g.sendJSON(w, http.StatusCreated, requestToResponse(req))
}

// handleListRequests returns requests filtered by status and category.
// Defaults to the open queue; listing requires the responder role.
func (g *Gateway) handleListRequests(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())
	if !id.Admin {
		g.sendJSONError(w, http.StatusForbidden, "admin role required")
		return
	}

	status := store.Status(r.URL.Query().Get("status"))
	if status == "" {
		status = store.StatusOpen
	}

	limit := 0
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		limit, _ = strconv.Atoi(rawLimit)
	}

	reqs, err := g.registry.List(r.Context(), status, r.URL.Query().Get("category"), limit)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	response := make([]*RequestResponse, 0, len(reqs))
	for _, req := range reqs {
		response = append(response, requestToResponse(req))
	}
	g.sendJSON(w, http.StatusOK, response)
}

// handleRequestRoutes dispatches /api/requests/{id} and its claim and close
// subroutes.
func (g *Gateway) handleRequestRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/requests/")
	requestID, action, _ := strings.Cut(rest, "/")
	if requestID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "request id required")
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		g.handleGetRequest(w, r, requestID)
	case "claim":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		g.handleClaimRequest(w, r, requestID)
	case "close":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		g.handleCloseRequest(w, r, requestID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (g *Gateway) handleGetRequest(w http.ResponseWriter, r *http.Request, requestID string) {
	req, err := g.registry.Get(r.Context(), requestID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "request not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to get request", "request_id", requestID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, requestToResponse(req))
}

// handleClaimRequest attempts the atomic claim for the calling responder.
// A lost race returns 409 with the winning snapshot in the body.
func (g *Gateway) handleClaimRequest(w http.ResponseWriter, r *http.Request, requestID string) {
	id := auth.MustFromContext(r.Context())
	if !id.Admin {
		g.sendJSONError(w, http.StatusForbidden, "admin role required")
		return
	}

	req, err := g.coordinator.Claim(r.Context(), requestID, id.UserID)
	if errors.Is(err, assign.ErrAlreadyAssigned) {
		g.sendConflict(w, r, requestID, "request already assigned")
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "request not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to claim request", "request_id", requestID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, requestToResponse(req))
}

func (g *Gateway) handleCloseRequest(w http.ResponseWriter, r *http.Request, requestID string) {
	id := auth.MustFromContext(r.Context())

	req, err := g.registry.Close(r.Context(), requestID, id.UserID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "request not found")
	case errors.Is(err, request.ErrUnauthorized):
		g.sendJSONError(w, http.StatusForbidden, "not a participant of this request")
	case errors.Is(err, request.ErrInvalidTransition):
		g.sendConflict(w, r, requestID, "request cannot be closed from its current status")
	case err != nil:
		g.logger.Error("failed to close request", "request_id", requestID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	default:
		g.sendJSON(w, http.StatusOK, requestToResponse(req))
	}
}

// handleMessages handles POST (append) and GET (history) on /api/messages.
func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		g.handleSendMessage(w, r)
	case http.MethodGet:
		g.handleMessageHistory(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	body, err := parseSendMessage(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := g.messages.Append(r.Context(), id.UserID, body.ReceiverID, body.Body, body.DedupToken)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	g.sendJSON(w, http.StatusOK, messageToResponse(msg))
}

// handleMessageHistory returns a backward page of the caller's conversation
// with ?peer=. Pass ?cursor= from a previous page for older messages.
func (g *Gateway) handleMessageHistory(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	peer := r.URL.Query().Get("peer")
	if peer == "" {
		g.sendJSONError(w, http.StatusBadRequest, "peer query parameter required")
		return
	}

	limit := 0
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		limit, _ = strconv.Atoi(rawLimit)
	}

	page, err := g.messages.History(r.Context(), id.UserID, peer, limit, r.URL.Query().Get("cursor"))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	response := MessagePageResponse{
		Messages:   make([]MessageResponse, 0, len(page.Messages)),
		NextCursor: page.NextCursor,
	}
	for _, msg := range page.Messages {
		response.Messages = append(response.Messages, messageToResponse(msg))
	}
	g.sendJSON(w, http.StatusOK, response)
}

// sendConflict writes a 409 carrying the request's current state when it can
// still be read.
func (g *Gateway) sendConflict(w http.ResponseWriter, r *http.Request, requestID, message string) {
	conflict := ConflictResponse{Error: message}
	if current, err := g.registry.Get(r.Context(), requestID); err == nil {
		conflict.Current = requestToResponse(current)
	}
	g.sendJSON(w, http.StatusConflict, conflict)
}

// sendJSON writes a JSON response with the given status code.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// parseCreateRequest parses and validates a CreateRequestBody.
func parseCreateRequest(r io.Reader) (*CreateRequestBody, error) {
	var body CreateRequestBody
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if body.Category == "" {
		return nil, fmt.Errorf("category is required")
	}
	return &body, nil
}

// parseSendMessage parses and validates a SendMessageBody.
func parseSendMessage(r io.Reader) (*SendMessageBody, error) {
	var body SendMessageBody
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if body.ReceiverID == "" {
		return nil, fmt.Errorf("receiver_id is required")
	}
	if body.Body == "" {
		return nil, fmt.Errorf("body is required")
	}
	return &body, nil
}
