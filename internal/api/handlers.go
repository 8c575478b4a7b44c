package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gelfstream/gelfd/internal/broadcast"
	"github.com/gelfstream/gelfd/internal/logging"
	"github.com/gelfstream/gelfd/internal/store"
)

// keepAliveInterval paces SSE comment lines so idle connections survive
// proxies that reap quiet streams
const keepAliveInterval = 15 * time.Second

type handlers struct {
	store  *store.Store
	hub    *broadcast.Hub
	logger *logging.Logger
}

// handleLogs serves stored records newest first. The limit parameter caps
// the count; absent or unparsable values return everything.
func (h *handlers) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := -1
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			limit = n
		}
	}

	envelopes := h.store.Snapshot(limit)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(envelopes)
}

// handleStats serves store occupancy
func (h *handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.store.Stats())
}

// handleStream pushes each stored record to the client as a server-sent
// event. A client that falls behind the hub buffer misses records and the
// stream continues from live traffic; the stream ends when the client
// disconnects or the hub closes.
func (h *handlers) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := h.hub.Subscribe()
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Debug().Str("client", r.RemoteAddr).Msg("SSE client connected")
	defer h.logger.Debug().Str("client", r.RemoteAddr).Msg("SSE client disconnected")

	ctx := r.Context()
	for {
		recvCtx, cancel := context.WithTimeout(ctx, keepAliveInterval)
		env, err := sub.Recv(recvCtx)
		cancel()

		var lag *broadcast.LagError
		switch {
		case err == nil:
			data, merr := json.Marshal(env)
			if merr != nil {
				continue
			}
			if _, werr := fmt.Fprintf(w, "event: message\ndata: %s\n\n", data); werr != nil {
				return
			}
			flusher.Flush()

		case errors.As(err, &lag):
			h.logger.Debug().
				Uint64("missed", lag.Missed).
				Str("client", r.RemoteAddr).
				Msg("SSE client lagged, skipping missed records")

		case errors.Is(err, broadcast.ErrClosed):
			return

		case ctx.Err() != nil:
			// Client disconnected
			return

		default:
			// Quiet interval elapsed, nudge the connection
			if _, werr := fmt.Fprint(w, ": keepalive\n\n"); werr != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleIndex serves the embedded viewer
func (h *handlers) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}
