package handlers

import (
	"net/http"

	"citypulse/middleware"
	"citypulse/models"
	"citypulse/services"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
)

// WebSocketHandler upgrades live-feed subscriptions.
type WebSocketHandler struct {
	hub       *services.WebSocketHub
	validator middleware.TokenValidator
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(hub *services.WebSocketHub, validator middleware.TokenValidator) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, validator: validator}
}

var upgrader = gorilla.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ListenMyComplaints subscribes a citizen to their own complaints. The feed
// delivers the current snapshot immediately and a replacement snapshot on
// every change.
func (h *WebSocketHandler) ListenMyComplaints(c *gin.Context) {
	userID, _, _, ok := h.authenticate(c)
	if !ok {
		return
	}
	h.subscribe(c, userID, false)
}

// ListenAllComplaints subscribes an administrator to the full collection.
func (h *WebSocketHandler) ListenAllComplaints(c *gin.Context) {
	userID, _, role, ok := h.authenticate(c)
	if !ok {
		return
	}
	if role != "admin" {
		c.JSON(http.StatusForbidden, models.ErrorResponse{Error: "admin access required"})
		return
	}
	h.subscribe(c, userID, true)
}

func (h *WebSocketHandler) subscribe(c *gin.Context, userID string, admin bool) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("Failed to upgrade connection to WebSocket: %v", err)
		return
	}

	h.hub.RegisterClient(conn, userID, admin)
	log.Infof("WebSocket subscription established for user %s (admin=%v)", userID, admin)
}

// authenticate resolves the session for a WebSocket request. Browsers cannot
// set headers on WebSocket handshakes, so the token may also travel as a
// query parameter.
func (h *WebSocketHandler) authenticate(c *gin.Context) (userID, phone, role string, ok bool) {
	token := c.Query("token")
	if token == "" {
		authHeader := c.GetHeader("Authorization")
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			token = authHeader[7:]
		}
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "missing token"})
		return "", "", "", false
	}

	userID, phone, role, err := h.validator.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "invalid or expired token"})
		return "", "", "", false
	}
	return userID, phone, role, true
}
