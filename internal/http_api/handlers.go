package http_api

import (
	"crypto/subtle"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fridaybazar/bazar/internal/models"
)

// OrdersResponse lists a user's orders, oldest first.
type OrdersResponse struct {
	UserID int64           `json:"user_id"`
	Orders []*models.Order `json:"orders"`
}

// adminAuth rejects requests without the configured admin key. With no key
// configured the admin endpoints are closed.
func (s *HTTPServer) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.adminKey == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin API disabled"})
			return
		}
		key := c.GetHeader(AdminKeyHeader)
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.adminKey)) != 1 {
			s.logger.Warn("Rejected admin API request", "path", c.FullPath(), "remote", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin key"})
			return
		}
		c.Next()
	}
}

// webhookAuth accepts only requests carrying the secret token Telegram was
// given in setWebhook. Without a secret the webhook is closed.
func (s *HTTPServer) webhookAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.webhook == nil {
			c.Next()
			return
		}
		token := c.GetHeader(WebhookSecretHeader)
		if s.webhookSecret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.webhookSecret)) != 1 {
			s.logger.Warn("Rejected webhook request", "remote", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid secret token"})
			return
		}
		c.Next()
	}
}

func (s *HTTPServer) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *HTTPServer) stats(c *gin.Context) {
	c.JSON(http.StatusOK, s.bazar.Stats())
}

func (s *HTTPServer) order(c *gin.Context) {
	id := c.Param("id")
	if _, err := models.ParseOrderID(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	order, ok := s.bazar.GetOrder(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *HTTPServer) userOrders(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || userID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	c.JSON(http.StatusOK, OrdersResponse{UserID: userID, Orders: s.bazar.UserOrders(userID)})
}

// handleTelegramWebhook hands incoming Telegram webhook updates to the bot.
func (s *HTTPServer) handleTelegramWebhook(c *gin.Context) {
	if s.webhook == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "webhook disabled"})
		return
	}
	s.webhook(c.Writer, c.Request)
}
