package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/viper1331/Simulateur-SSI/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Send/receive timing configuration and message size limits.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 14 // 16 KB; scenario events carry payload maps
)

// Upgrader for HTTP -> WebSocket. Consider tightening CheckOrigin in production.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // TODO: restrict origins for production
}

// wsClient is one connected station. Writes are serialized through mu
// because the coordinator broadcasts from session goroutines while the
// ping loop writes from its own.
type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

var _ service.Client = (*wsClient)(nil)

func (c *wsClient) Send(msg service.ServerMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

func (c *wsClient) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

func (h *Handler) wsConnect(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.log != nil {
			h.log.Errorw("ws_upgrade_failed", "err", err)
		}
		return
	}
	client := &wsClient{conn: conn}
	defer func() {
		h.services.Sessions.Leave(client)
		_ = conn.Close()
	}()

	// Configure read limits and pong handler to extend the read deadline.
	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Ping loop keeps idle trainee stations alive.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := client.ping(); err != nil {
					return
				}
			}
		}
	}()

	for {
		var msg service.ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if h.log != nil {
				h.log.Infow("ws_read_closed", "err", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if !h.dispatch(c, client, msg) {
			return
		}
	}
}

// dispatch routes one inbound command to the session coordinator.
// Malformed commands answer with an ERROR frame and leave the session
// untouched. It reports false when the connection must be closed,
// which happens on a failed INIT authentication.
func (h *Handler) dispatch(c *gin.Context, client *wsClient, msg service.ClientMessage) bool {
	ctx := c.Request.Context()

	if msg.SessionID == "" {
		h.sendError(client, "sessionId manquant")
		return true
	}

	switch msg.Type {
	case service.MsgInit:
		if h.authRequired {
			if _, err := h.services.ParseToken(msg.Token); err != nil {
				h.sendError(client, "authentification requise")
				return false
			}
		}
		h.services.Sessions.Join(client, msg.SessionID, msg.Role)
	case service.MsgStartScenario:
		if err := h.services.Sessions.StartScenario(ctx, msg.SessionID, msg.ScenarioID, msg.TrainerID, msg.TraineeID); err != nil {
			if h.log != nil {
				h.log.Infow("ws_start_scenario_failed", "session", msg.SessionID, "scenario", msg.ScenarioID, "err", err)
			}
			h.sendError(client, err.Error())
		}
	case service.MsgTriggerEvent:
		if msg.Event == nil {
			h.sendError(client, "événement manquant")
			return true
		}
		h.services.Sessions.TriggerEvent(ctx, msg.SessionID, *msg.Event)
	case service.MsgSetAccessLevel:
		h.services.Sessions.SetAccessLevel(ctx, msg.SessionID, msg.TrainerID, msg.Level)
	case service.MsgAck:
		h.services.Sessions.Acknowledge(ctx, msg.SessionID, msg.UserID)
	case service.MsgReset:
		h.services.Sessions.Reset(ctx, msg.SessionID, msg.UserID)
	case service.MsgUgaStop:
		h.services.Sessions.StopUGA(ctx, msg.SessionID, msg.UserID)
	case service.MsgSetOutOfService:
		h.services.Sessions.SetOutOfService(ctx, msg.SessionID, msg.UserID, msg.TargetType, msg.TargetID, msg.Active, msg.Label)
	case service.MsgStopScenario:
		h.services.Sessions.StopScenario(ctx, msg.SessionID)
	default:
		h.sendError(client, "type de message inconnu")
	}
	return true
}

func (h *Handler) sendError(client *wsClient, message string) {
	if err := client.Send(service.ServerMessage{Type: service.MsgError, Message: message}); err != nil && h.log != nil {
		h.log.Infow("ws_error_send_failed", "err", err)
	}
}
