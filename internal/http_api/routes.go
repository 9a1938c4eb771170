package http_api

// routes sets up the routes for the HTTP server.
func (s *HTTPServer) routes() {
	s.router.GET("/healthz", s.health)
	s.router.POST("/webhook", s.webhookAuth(), s.handleTelegramWebhook)

	admin := s.router.Group("/api/v1", s.adminAuth())
	admin.GET("/stats", s.stats)
	admin.GET("/orders/:id", s.order)
	admin.GET("/users/:id/orders", s.userOrders)
}
