package handlers

import (
	"log"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
)

// GitEventsWS streams the session's git commit events as JSON messages.
// Events are fire-and-forget: nothing is replayed on reconnect.
func GitEventsWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := Mgr.Get(id); err != nil {
		writeOpError(w, err)
		return
	}

	clientConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("Failed to accept git events websocket: %v", err)
		return
	}
	defer clientConn.CloseNow()

	ctx := r.Context()
	sub := EventHub.Subscribe(id)
	defer EventHub.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			clientConn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-sub:
			if !ok {
				clientConn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := wsjson.Write(ctx, clientConn, ev); err != nil {
				return
			}
		}
	}
}

// GitStatus returns the monitor's last observed repository state.
func GitStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := Mgr.Get(id); err != nil {
		writeOpError(w, err)
		return
	}

	snap, running := Mgr.MonitorStatus(id)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"monitoring": running,
		"last_sha":   snap.LastSHA,
		"dirty":      snap.Dirty,
	})
}
