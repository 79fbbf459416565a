package handler

import (
	"errors"
	"net/http"
	"portalchat/backend/internal/chathub"
	"portalchat/backend/internal/config"
	"portalchat/backend/internal/logging"
	"portalchat/backend/internal/models"
	"portalchat/backend/internal/storage"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Handler містить посилання на ChatHub
type Handler struct {
	Hub *chathub.Hub
	// Profiles receives the profile submitted at dev sign-in. May be nil.
	Profiles storage.ProfileStore

	secret   []byte
	devAuth  bool
	origins  []string
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewHandler(hub *chathub.Hub, profiles storage.ProfileStore, cfg *config.Config, log zerolog.Logger) *Handler {
	h := &Handler{
		Hub:      hub,
		Profiles: profiles,
		secret:   []byte(cfg.JWTSecret),
		devAuth:  cfg.DevAuth,
		origins:  cfg.AllowedOrigins,
		log:      logging.Component(log, "api"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) allowAllOrigins() bool {
	return len(h.origins) == 0 || slices.Contains(h.origins, "*")
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowAllOrigins() {
		return true
	}
	return slices.Contains(h.origins, origin)
}

func (h *Handler) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	if h.allowAllOrigins() {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = h.origins
	}
	return cfg
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	r.Use(cors.New(h.corsConfig()))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if h.devAuth {
		r.POST("/session", h.SignIn)
	}

	api := r.Group("/api", h.RequireSession)
	api.GET("/rooms/:peer", h.ResolveRoom)
	api.GET("/unread", h.Unread)

	ws := r.Group("/ws", h.RequireSession)
	ws.GET("/conversations/:peer", h.ServeConversation)
	ws.GET("/notifications", h.ServeNotifications)
}

// statusFor maps core errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidParticipants),
		errors.Is(err, chathub.ErrInvalidMessage),
		errors.Is(err, chathub.ErrNoViewer):
		return http.StatusBadRequest
	case errors.Is(err, chathub.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
