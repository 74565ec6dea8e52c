package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sai/internal/app"
	"sai/internal/ledger"
	"sai/internal/notify"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 30 * time.Second
	pingPeriod     = 10 * time.Second
	maxMessageSize = 4096
	commandTimeout = 10 * time.Second
)

const (
	CommandSync           = "sync"
	CommandNodeConnect    = "node-connect"
	CommandNodeDisconnect = "node-disconnect"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsConn serves one websocket session: a writer draining the hub outbox and the read loop
// handling client commands.
type wsConn struct {
	app      *app.App
	conn     *websocket.Conn
	session  *notify.Session
	identity string
	mu       sync.Mutex // serializes writes to conn
	log      zerolog.Logger
}

func wsHandler(c *gin.Context) {
	app := c.MustGet("app").(*app.App)
	// Extract token from query
	token := c.DefaultQuery("token", "")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token", "code": "unauthorized"})
		return
	}
	identity, err := app.Tokens.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token", "code": "unauthorized"})
		return
	}
	if _, err := app.Ledger.Identity(c.Request.Context(), identity); err != nil {
		respondWsError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		app.Log.Warn().Err(err).Msg("failed to set websocket upgrade")
		return
	}
	w := &wsConn{
		app:      app,
		conn:     conn,
		identity: identity,
		log:      app.Log.With().Str("component", "ws").Str("identity", identity).Logger(),
	}
	w.serve()
}

func respondWsError(c *gin.Context, err error) {
	var status int
	switch ledger.KindOf(err) {
	case ledger.KindNotFound:
		status = http.StatusNotFound
	default:
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"error": "identity unavailable", "code": "ws_rejected"})
}

func (w *wsConn) serve() {
	hub := w.app.Hub
	w.session = hub.Register(w.identity)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		hub.Unregister(w.session)
		dropCtx, dropCancel := context.WithTimeout(context.Background(), commandTimeout)
		defer dropCancel()
		if err := w.app.Engine.DropSession(dropCtx, w.identity, w.session.Id); err != nil {
			w.log.Warn().Err(err).Msg("release node on close")
		}
		_ = w.conn.Close()
		w.log.Debug().Str("session", w.session.Id).Msg("websocket closed")
	}()
	w.log.Debug().Str("session", w.session.Id).Msg("websocket opened")

	w.sync(ctx)
	go w.writeLoop(ctx)
	w.readLoop(ctx)
}

func (w *wsConn) write(messageType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(messageType, data)
}

func (w *wsConn) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.session.Done():
			_ = w.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			_ = w.conn.Close()
			return
		case payload := <-w.session.Outbox():
			if err := w.write(websocket.TextMessage, payload); err != nil {
				w.log.Debug().Err(err).Msg("failed to send data")
				_ = w.conn.Close()
				return
			}
		case <-ticker.C:
			if err := w.write(websocket.PingMessage, nil); err != nil {
				w.log.Debug().Err(err).Msg("failed to send ping")
				_ = w.conn.Close()
				return
			}
		}
	}
}

func (w *wsConn) readLoop(ctx context.Context) {
	w.conn.SetReadLimit(maxMessageSize)
	_ = w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		return w.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		messageType, p, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.log.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}
		_ = w.conn.SetReadDeadline(time.Now().Add(pongWait))
		if messageType != websocket.TextMessage {
			continue
		}
		w.handle(ctx, parseCommand(p))
	}
}

// parseCommand accepts a bare command ("sync") or a JSON object ({"type": "sync"}).
func parseCommand(p []byte) string {
	raw := strings.TrimSpace(string(p))
	if strings.HasPrefix(raw, "{") {
		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(raw), &msg); err == nil {
			return msg.Type
		}
		return ""
	}
	return raw
}

func (w *wsConn) handle(ctx context.Context, command string) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var err error
	switch command {
	case CommandSync:
		w.sync(ctx)
		return
	case CommandNodeConnect:
		err = w.app.Engine.Connect(ctx, w.identity, w.session.Id)
	case CommandNodeDisconnect:
		err = w.app.Engine.Disconnect(ctx, w.identity)
	default:
		w.sendError("unknown_command", "unknown command")
		return
	}
	if err != nil {
		w.log.Warn().Err(err).Str("command", command).Msg("command failed")
		w.sendLedgerError(err)
	}
}

// sync writes the current snapshot straight to the connection.
func (w *wsConn) sync(ctx context.Context) {
	snap, err := w.app.Ledger.Snapshot(ctx, w.identity)
	if err != nil {
		w.sendLedgerError(err)
		return
	}
	payload, err := notify.EncodeSnapshot(snap)
	if err != nil {
		w.log.Error().Err(err).Msg("encode snapshot")
		return
	}
	if err := w.write(websocket.TextMessage, payload); err != nil {
		w.log.Debug().Err(err).Msg("failed to send data")
	}
}

func (w *wsConn) sendLedgerError(err error) {
	code, message := "internal_error", "internal error"
	var le *ledger.Error
	if errors.As(err, &le) && le.Kind != ledger.KindStorage {
		code, message = le.Code, le.Message
	}
	w.sendError(code, message)
}

func (w *wsConn) sendError(code, message string) {
	payload, err := notify.EncodeError(code, message)
	if err != nil {
		return
	}
	_ = w.write(websocket.TextMessage, payload)
}
