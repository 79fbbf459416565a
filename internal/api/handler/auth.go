package handler

import (
	"errors"
	"fmt"
	"net/http"
	"portalchat/backend/internal/chathub"
	"portalchat/backend/internal/config"
	"portalchat/backend/internal/models"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	jwt "github.com/golang-jwt/jwt/v5"
)

const sessionKey = "session"

var errNoToken = errors.New("authorization token missing")

// issueToken генерує JWT для userID
func (h *Handler) issueToken(userID string, now time.Time) (string, time.Time, error) {
	expires := now.Add(config.SessionTokenTTL)
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    config.SessionTokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(h.secret)
	return signed, expires, err
}

// parseToken validates raw and returns the session it carries.
func (h *Handler) parseToken(raw string) (chathub.Session, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return h.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(config.SessionTokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return chathub.Session{}, fmt.Errorf("parse session token: %w", err)
	}
	return chathub.NewSession(claims.Subject)
}

func bearerToken(c *gin.Context) (string, error) {
	if header := c.GetHeader("Authorization"); header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return "", errNoToken
		}
		return token, nil
	}
	// Browsers cannot set headers on WebSocket handshakes.
	if token := c.Query("token"); token != "" {
		return token, nil
	}
	return "", errNoToken
}

// RequireSession rejects requests without a valid session token.
func (h *Handler) RequireSession(c *gin.Context) {
	raw, err := bearerToken(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	session, err := h.parseToken(raw)
	if err != nil {
		h.log.Debug().Err(err).Msg("rejected session token")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}
	c.Set(sessionKey, session)
	c.Next()
}

func sessionFrom(c *gin.Context) chathub.Session {
	s, _ := c.MustGet(sessionKey).(chathub.Session)
	return s
}

type signInRequest struct {
	UserID         string `json:"user_id" binding:"required,max=128"`
	FullName       string `json:"full_name" binding:"max=256"`
	Image          string `json:"image" binding:"omitempty,url"`
	TelegramChatID int64  `json:"telegram_chat_id"`
}

// SignIn issues a session token for the given user id. It stands in for
// the external authentication service in development.
func (h *Handler) SignIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.Profiles != nil && (req.FullName != "" || req.Image != "" || req.TelegramChatID != 0) {
		profile := &models.Profile{
			UserID:         req.UserID,
			FullName:       req.FullName,
			Image:          req.Image,
			TelegramChatID: req.TelegramChatID,
		}
		if err := h.Profiles.SaveProfile(c.Request.Context(), profile); err != nil {
			h.fail(c, fmt.Errorf("%w: %w", chathub.ErrStoreUnavailable, err))
			return
		}
	}

	token, expires, err := h.issueToken(req.UserID, time.Now())
	if err != nil {
		h.log.Error().Err(err).Msg("sign session token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user_id": req.UserID, "expires_at": expires.UTC()})
}
