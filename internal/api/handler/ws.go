package handler

import (
	"net/http"
	"portalchat/backend/internal/chathub"

	"github.com/gin-gonic/gin"
)

// ResolveRoom returns the room shared with :peer, creating it if needed.
func (h *Handler) ResolveRoom(c *gin.Context) {
	session := sessionFrom(c)
	roomID, err := h.Hub.Resolver.Resolve(c.Request.Context(), session.ViewerID, c.Param("peer"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": roomID})
}

// Unread returns the viewer's unread feed once.
func (h *Handler) Unread(c *gin.Context) {
	entries, err := h.Hub.RoomList.Unread(c.Request.Context(), sessionFrom(c).ViewerID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if entries == nil {
		entries = []chathub.UnreadEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"rooms": entries})
}

// ServeConversation оновлює HTTP-з'єднання до WebSocket для однієї розмови.
func (h *Handler) ServeConversation(c *gin.Context) {
	session := sessionFrom(c)
	conv, err := h.Hub.OpenConversation(c.Request.Context(), session, c.Param("peer"))
	if err != nil {
		h.fail(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		conv.Close()
		h.log.Warn().Err(err).Str("user_id", session.ViewerID).Msg("websocket upgrade failed")
		return
	}

	chathub.NewConversationClient(h.Hub, conn, conv).Run()
}

// ServeNotifications streams the viewer's unread feed over a WebSocket.
func (h *Handler) ServeNotifications(c *gin.Context) {
	session := sessionFrom(c)
	feed, err := h.Hub.RoomList.Subscribe(h.Hub.Context(), session.ViewerID, chathub.FeedOptions{MarkDelivered: true})
	if err != nil {
		h.fail(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		feed.Close()
		h.log.Warn().Err(err).Str("user_id", session.ViewerID).Msg("websocket upgrade failed")
		return
	}

	chathub.NewNotificationClient(h.Hub, conn, session, feed).Run()
}
