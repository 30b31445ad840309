package httpx

import (
	"net/http"
	"time"

	"github.com/bugradar/bugradar/internal/ws"
)

// handleEventStreamWS upgrades to a websocket carrying newly ingested and
// triaged events of one project.
func (r *Router) handleEventStreamWS(w http.ResponseWriter, req *http.Request) {
	project, ok := r.projectFromQuery(w, req)
	if !ok {
		return
	}
	hub := r.events.Hub()
	if hub == nil {
		writeError(w, http.StatusServiceUnavailable, "live stream unavailable")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	hub.Register(project.ID, client)
	go func() {
		defer hub.Unregister(project.ID, client)
		client.Serve()
	}()
}

// handleEventStreamSSE is the Server-Sent Events variant of the live stream.
// It holds the request open until the client goes away.
func (r *Router) handleEventStreamSSE(w http.ResponseWriter, req *http.Request) {
	project, ok := r.projectFromQuery(w, req)
	if !ok {
		return
	}
	hub := r.events.Hub()
	if hub == nil {
		writeError(w, http.StatusServiceUnavailable, "live stream unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	hub.Register(project.ID, client)
	defer func() {
		client.Close()
		hub.Unregister(project.ID, client)
	}()
	if err := client.Heartbeat(); err != nil {
		return
	}

	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-client.Done():
			return
		case payload := <-client.Messages():
			if err := client.WriteFrame(payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}
