package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/claude-sandbox/sandboxd/internal/session"
	"github.com/claude-sandbox/sandboxd/internal/terminal"
)

// terminalRateLimit is the maximum number of messages allowed per second
// per WebSocket connection. Messages beyond this rate are dropped.
const terminalRateLimit = 200

// terminalRateBurst allows short bursts of rapid input (paste operations)
// before rate limiting kicks in.
const terminalRateBurst = 200

type termResizeMsg struct {
	Type string `json:"type"`
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// TerminalWS bridges a WebSocket to the session's terminal stream. Binary
// messages carry raw terminal bytes; text messages carry resize requests.
// Output fans out to every connected socket; input is honored only from
// the connection holding write authority. ?mode=agent opens the stream
// running the coding agent instead of a shell; the mode only matters for
// the connection that opens a fresh stream.
func TerminalWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := Mgr.Get(id)
	if err != nil {
		writeOpError(w, err)
		return
	}
	if rec.Status != session.StatusRunning {
		writeError(w, http.StatusConflict, "session is not running")
		return
	}

	clientConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("Failed to accept terminal websocket: %v", err)
		return
	}
	defer clientConn.CloseNow()

	ctx := r.Context()
	clientConn.SetReadLimit(1024 * 1024)

	var cmd []string
	if r.URL.Query().Get("mode") == "agent" {
		cmd = Mgr.AgentCommand()
	}

	wsWriter := &wsOutputWriter{conn: clientConn, ctx: ctx}
	client, err := Mgr.Terminal().Attach(id, rec.Name, cmd, wsWriter)
	if err != nil {
		clientConn.Close(4502, "Failed to open terminal")
		return
	}
	defer client.Detach()

	limiter := newTokenBucket(terminalRateBurst, terminalRateLimit)

	for {
		msgType, data, err := clientConn.Read(ctx)
		if err != nil {
			return
		}

		if !limiter.allow() {
			continue
		}

		if msgType == websocket.MessageBinary {
			if _, err := client.Write(data); err != nil {
				if errors.Is(err, terminal.ErrWriteDenied) {
					continue
				}
				return
			}
		} else {
			var msg termResizeMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Type == "resize" && msg.Cols > 0 && msg.Rows > 0 {
				client.Resize(msg.Cols, msg.Rows)
			}
		}
	}
}

// wsOutputWriter wraps a WebSocket connection to implement io.Writer.
type wsOutputWriter struct {
	conn *websocket.Conn
	ctx  context.Context
}

func (w *wsOutputWriter) Write(p []byte) (int, error) {
	if err := w.conn.Write(w.ctx, websocket.MessageBinary, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// tokenBucket implements a simple token bucket rate limiter for terminal
// messages.
type tokenBucket struct {
	tokens     int
	maxTokens  int
	refillRate int // tokens added per second
	lastRefill time.Time
}

func newTokenBucket(maxTokens, refillRate int) *tokenBucket {
	return &tokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// allow checks if a message is allowed and consumes a token.
func (tb *tokenBucket) allow() bool {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	tb.lastRefill = now

	tb.tokens += int(elapsed.Seconds() * float64(tb.refillRate))
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}

	if tb.tokens <= 0 {
		return false
	}
	tb.tokens--
	return true
}
