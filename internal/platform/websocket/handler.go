package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/notify/internal/platform/apperr"
	"github.com/ehr/notify/internal/platform/auth"
)

const (
	ActionTyping        = "typing"
	ActionStoppedTyping = "stoppedTyping"
	ActionMarkRead      = "markRead"

	maxMessageSize = 4096
	writeWait      = 10 * time.Second
)

// ClientMessage is an inbound frame sent by a connected client.
type ClientMessage struct {
	Action      string      `json:"action"`
	RecipientID uuid.UUID   `json:"recipientId,omitempty"`
	IDs         []uuid.UUID `json:"ids,omitempty"`
}

// InboundHandler receives the actions clients send over their channel.
type InboundHandler interface {
	Typing(ctx context.Context, senderID, recipientID uuid.UUID) error
	StoppedTyping(ctx context.Context, senderID, recipientID uuid.UUID) error
	MarkConversationRead(ctx context.Context, readerID uuid.UUID, ids []uuid.UUID) (int, error)
}

type HandlerConfig struct {
	SendBuffer   int
	PingInterval time.Duration
}

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades authenticated HTTP requests into delivery channels.
type Handler struct {
	registry *Registry
	inbound  InboundHandler
	logger   zerolog.Logger
	cfg      HandlerConfig
}

func NewHandler(reg *Registry, inbound InboundHandler, logger zerolog.Logger, cfg HandlerConfig) *Handler {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &Handler{
		registry: reg,
		inbound:  inbound,
		logger:   logger.With().Str("component", "websocket").Logger(),
		cfg:      cfg,
	}
}

// RegisterRoutes registers the WebSocket endpoint on the provided Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", h.HandleConnect)
}

// HandleConnect rejects requests without an identity, then upgrades the
// connection, attaches the channel and starts the read and write pumps.
func (h *Handler) HandleConnect(c echo.Context) error {
	userID, ok := auth.UserIDFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	ch := NewChannel(h.cfg.SendBuffer)
	if err := h.registry.Attach(userID, ch); err != nil {
		ws.Close()
		return err
	}
	h.logger.Debug().Str("user_id", userID.String()).Str("channel_id", ch.ID).Msg("channel attached")

	go h.writePump(ch, ws)
	go h.readPump(userID, ch, ws)
	return nil
}

// ProcessMessage dispatches one inbound client frame.
func (h *Handler) ProcessMessage(ctx context.Context, userID uuid.UUID, msg ClientMessage) error {
	switch msg.Action {
	case ActionTyping:
		return h.inbound.Typing(ctx, userID, msg.RecipientID)
	case ActionStoppedTyping:
		return h.inbound.StoppedTyping(ctx, userID, msg.RecipientID)
	case ActionMarkRead:
		_, err := h.inbound.MarkConversationRead(ctx, userID, msg.IDs)
		return err
	default:
		return apperr.Validation("unknown action %q", msg.Action)
	}
}

func (h *Handler) readPump(userID uuid.UUID, ch *Channel, ws *gorillawebsocket.Conn) {
	defer func() {
		h.registry.Detach(ch)
		ws.Close()
		h.logger.Debug().Str("user_id", userID.String()).Str("channel_id", ch.ID).Msg("channel detached")
	}()

	ws.SetReadLimit(maxMessageSize)
	deadline := 2 * h.cfg.PingInterval
	ws.SetReadDeadline(time.Now().Add(deadline))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if err := h.ProcessMessage(context.Background(), userID, msg); err != nil {
			h.logger.Warn().Err(err).
				Str("user_id", userID.String()).
				Str("action", msg.Action).
				Msg("inbound message rejected")
		}
	}
}

func (h *Handler) writePump(ch *Channel, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-ch.Send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
