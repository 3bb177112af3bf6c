// internal/realtime/handler.go
package realtime

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/emprendedores-unidos/marketplace/internal/config"
	"github.com/emprendedores-unidos/marketplace/internal/i18n"
	"github.com/emprendedores-unidos/marketplace/internal/models"
	"github.com/emprendedores-unidos/marketplace/internal/utils"
)

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

type Handler struct {
	hub      *Hub
	router   *EventRouter
	auth     Authenticator
	cfg      config.RealtimeConfig
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, router *EventRouter, auth Authenticator, cfg config.RealtimeConfig) *Handler {
	h := &Handler{
		hub:    hub,
		router: router,
		auth:   auth,
		cfg:    cfg,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// ServeWS authenticates before upgrading, so a bad token is a plain 401.
func (h *Handler) ServeWS(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	token := tokenFromRequest(c)
	if token == "" {
		utils.UnauthorizedResponse(c, i18n.T(lang, i18n.KeyAuthRequired))
		return
	}

	user, err := h.auth.Authenticate(c.Request.Context(), token)
	if err != nil {
		if utils.IsKind(err, utils.KindAuthentication) {
			utils.UnauthorizedResponse(c, i18n.T(lang, i18n.KeyAuthInvalidToken))
			return
		}
		utils.HandleServiceError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already wrote the HTTP error
		h.hub.logger.WithError(err).Debug("Websocket upgrade failed")
		return
	}

	client := newClient(h.hub, conn, user.ID, h.cfg)
	if err := h.hub.Register(client); err != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	go client.writePump()
	go func() {
		defer cancel()
		client.readPump(ctx, h.router)
	}()
}

func tokenFromRequest(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
