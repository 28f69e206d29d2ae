package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-live/collab-service/internal/audit"
	"github.com/weiawesome/wes-io-live/collab-service/internal/domain"
	"github.com/weiawesome/wes-io-live/collab-service/internal/hub"
	"github.com/weiawesome/wes-io-live/collab-service/internal/registry"
	"github.com/weiawesome/wes-io-live/collab-service/internal/room"
	"github.com/weiawesome/wes-io-live/collab-service/pkg/log"
	"github.com/weiawesome/wes-io-live/collab-service/pkg/response"
)

// ReadLimits bounds the recent-messages read path.
type ReadLimits struct {
	Default int
	Max     int
}

// Handler serves the websocket and HTTP surface of both room kinds.
type Handler struct {
	chat       *room.Manager
	whiteboard *room.Manager
	hub        *hub.Hub
	wsCfg      hub.Config
	limits     ReadLimits
	upgrader   websocket.Upgrader
}

func NewHandler(chat, whiteboard *room.Manager, h *hub.Hub, wsCfg hub.Config, limits ReadLimits) *Handler {
	if limits.Default <= 0 {
		limits.Default = 50
	}
	if limits.Max < limits.Default {
		limits.Max = limits.Default
	}
	return &Handler{
		chat:       chat,
		whiteboard: whiteboard,
		hub:        h,
		wsCfg:      wsCfg,
		limits:     limits,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	api := r.Group("/api/v1")
	{
		api.Any("/chat/rooms/:room_id", h.ChatRoom)
		api.Any("/whiteboards/:whiteboard_id", h.Whiteboard)
		api.GET("/stats", h.Stats)
	}
}

// ChatRoom upgrades websocket requests into the chat room and serves the
// recent messages to plain GETs.
func (h *Handler) ChatRoom(c *gin.Context) {
	roomID := c.Param("room_id")

	if websocket.IsWebSocketUpgrade(c.Request) {
		h.serveWebSocket(c, h.chat, roomID, domain.Identity{})
		return
	}
	if c.Request.Method != http.MethodGet {
		response.MethodNotAllowed(c, "method not allowed")
		return
	}
	h.recentMessages(c, roomID)
}

// Whiteboard only speaks websocket. The query may carry userId, username
// and color; the room fills in whatever is missing.
func (h *Handler) Whiteboard(c *gin.Context) {
	if !websocket.IsWebSocketUpgrade(c.Request) {
		response.UpgradeRequired(c, "websocket upgrade required")
		return
	}
	hint := domain.Identity{
		UserID:   c.Query("userId"),
		Username: c.Query("username"),
		Color:    c.Query("color"),
	}
	h.serveWebSocket(c, h.whiteboard, c.Param("whiteboard_id"), hint)
}

func (h *Handler) recentMessages(c *gin.Context, roomID string) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	limit, err := parseLimit(c.Query("limit"), h.limits)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	msgs, err := h.chat.Recent(ctx, roomID, limit)
	if err != nil {
		if !h.roomError(c, err) {
			l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to load recent messages")
			response.InternalError(c, "failed to load messages")
		}
		return
	}

	response.Success(c, gin.H{"messages": msgs})
}

var errInvalidLimit = errors.New("limit must be a positive integer")

func parseLimit(raw string, limits ReadLimits) (int, error) {
	if raw == "" {
		return limits.Default, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errInvalidLimit
	}
	if n > limits.Max {
		n = limits.Max
	}
	return n, nil
}

func (h *Handler) serveWebSocket(c *gin.Context, mgr *room.Manager, roomID string, hint domain.Identity) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	// Claim the room before upgrading so a room served elsewhere is refused
	// with a plain HTTP error.
	if err := mgr.Ensure(ctx, roomID); err != nil {
		if !h.roomError(c, err) {
			l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to start room")
			response.InternalError(c, "failed to start room")
		}
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), conn, h.wsCfg)
	client.SetAttachment(hint)
	key := mgr.Key(roomID)
	h.hub.Attach(key, client)

	if err := mgr.Join(context.WithoutCancel(ctx), roomID, client); err != nil {
		l.Warn().Err(err).Str(log.FieldConnID, client.ID()).Msg("failed to join room")
		h.hub.Detach(key, client)
		client.Close()
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump(
		func(data []byte) {
			err := mgr.Deliver(roomID, client, data)
			switch {
			case errors.Is(err, registry.ErrOwnedElsewhere):
				// Another instance took the room over; the client reconnects
				// and lands on the new owner.
				l.Info().Str(log.FieldConnID, client.ID()).Msg("room moved to another instance, closing connection")
				client.Close()
			case err != nil:
				l.Warn().Err(err).Str(log.FieldConnID, client.ID()).Msg("dropped inbound frame")
			}
		},
		func() {
			h.hub.Detach(key, client)
			err := mgr.Leave(roomID, client)
			if err != nil && !errors.Is(err, room.ErrManagerStopped) && !errors.Is(err, registry.ErrOwnedElsewhere) {
				l.Warn().Err(err).Str(log.FieldConnID, client.ID()).Msg("failed to leave room")
			}
		},
	)
}

// roomError writes the response for errors that map to a client-facing
// status. It reports whether it handled err.
func (h *Handler) roomError(c *gin.Context, err error) bool {
	switch {
	case errors.Is(err, registry.ErrOwnedElsewhere):
		audit.Log(c.Request.Context(), audit.ActionClaimRejected, "room is owned by another instance")
		response.Conflict(c, "room is served by another instance")
	case errors.Is(err, room.ErrManagerStopped):
		response.Unavailable(c, "service is shutting down")
	default:
		return false
	}
	return true
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Stats reports live rooms per kind and attached connections.
func (h *Handler) Stats(c *gin.Context) {
	response.Success(c, gin.H{
		"rooms":       []room.Stats{h.chat.Stats(), h.whiteboard.Stats()},
		"connections": h.hub.Count(),
	})
}
