package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hooklens/hooklens/internal/bus"
	"github.com/hooklens/hooklens/internal/models"
	"github.com/hooklens/hooklens/internal/storage"
)

const feedKeepalive = 15 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The dashboard runs on its own origin; access control happens
		// through the identity middleware, not the Origin header.
		return true
	},
}

// FeedHandler streams newly captured requests to the endpoint's owner over
// SSE or a websocket. Only records appended after the subscription start are
// delivered; history comes from the request listing.
type FeedHandler struct {
	store storage.Storage
	bus   *bus.Bus
	log   zerolog.Logger
}

func NewFeedHandler(store storage.Storage, b *bus.Bus, log zerolog.Logger) *FeedHandler {
	return &FeedHandler{store: store, bus: b, log: log}
}

func (h *FeedHandler) ServeSSE(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.ownedEndpoint(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	sub := h.bus.Subscribe(ep.ID)
	defer sub.Cancel()

	ticker := time.NewTicker(feedKeepalive)
	defer ticker.Stop()

	for {
		select {
		case rec, ok := <-sub.Records():
			if !ok {
				return
			}
			data, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: request\ndata: %s\n\n", data)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (h *FeedHandler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.ownedEndpoint(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := h.bus.Subscribe(ep.ID)
	defer sub.Cancel()

	// Reader goroutine: we send only, but reading is what surfaces the
	// peer closing the connection.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(feedKeepalive)
	defer ticker.Stop()

	for {
		select {
		case rec, ok := <-sub.Records():
			if !ok {
				return
			}
			if err := conn.WriteJSON(rec); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *FeedHandler) ownedEndpoint(w http.ResponseWriter, r *http.Request) (*models.Endpoint, bool) {
	ident, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}

	ep, err := h.store.ResolveEndpoint(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err, "endpoint")
		return nil, false
	}
	if ep.Owner != ident.Owner() {
		writeError(w, http.StatusForbidden, "you do not own this endpoint")
		return nil, false
	}
	return ep, true
}
