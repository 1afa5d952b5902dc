// ABOUTME: SSE endpoints streaming bus events to clients
// ABOUTME: Each stream opens with a snapshot event so clients start consistent

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mart-code/first-aid-app/internal/auth"
	"github.com/mart-code/first-aid-app/internal/bus"
	"github.com/mart-code/first-aid-app/internal/store"
)

// handleRequestEvents streams snapshots of one request over SSE.
// GET /api/events/requests/{id}
func (g *Gateway) handleRequestEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	requestID := strings.TrimPrefix(r.URL.Path, "/api/events/requests/")
	if requestID == "" || strings.Contains(requestID, "/") {
		g.sendJSONError(w, http.StatusBadRequest, "request id required")
		return
	}

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

	g.streamTopic(w, r, bus.RequestTopic(requestID), "request", requestToResponse(req))
}

// handleOpenRequestsEvents streams the open-request feed over SSE.
// GET /api/events/open[?category=]
func (g *Gateway) handleOpenRequestsEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	reqs, err := g.registry.List(r.Context(), store.StatusOpen, r.URL.Query().Get("category"), 0)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	snapshot := make([]*RequestResponse, 0, len(reqs))
	for _, req := range reqs {
		snapshot = append(snapshot, requestToResponse(req))
	}

	// The snapshot is filtered, the stream is not: clients filter live feed
	// events by category themselves, matching the topic's fan-out semantics.
	g.streamTopic(w, r, bus.OpenRequestsTopic, "open_requests", snapshot)
}

// handleConversationEvents streams the caller's conversation with ?peer=
// over SSE.
func (g *Gateway) handleConversationEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := auth.MustFromContext(r.Context())
	peer := r.URL.Query().Get("peer")
	if peer == "" {
		g.sendJSONError(w, http.StatusBadRequest, "peer query parameter required")
		return
	}

	page, err := g.messages.History(r.Context(), id.UserID, peer, 0, "")
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	snapshot := make([]MessageResponse, 0, len(page.Messages))
	for _, msg := range page.Messages {
		snapshot = append(snapshot, messageToResponse(msg))
	}

	g.streamTopic(w, r, bus.ConversationTopic(id.UserID, peer), "conversation", snapshot)
}

// streamTopic subscribes to a bus topic and forwards its events as SSE until
// the client disconnects. The seed snapshot is written first, after the
// subscription is registered, so no event between the two is lost.
func (g *Gateway) streamTopic(w http.ResponseWriter, r *http.Request, topic, seedEvent string, seed any) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, subID := g.broadcaster.Subscribe(r.Context(), topic)
	defer g.broadcaster.Unsubscribe(topic, subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	g.writeSSEEvent(w, seedEvent, seed)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				// Bus dropped us (shutdown or slow-consumer eviction); the
				// client reconnects and reseeds from the snapshot event.
				return
			}
			g.writeSSEEvent(w, string(event.Type), event)
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}
