package stub

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewRouter wires the QA backend routes. Session creation, listing,
// usage and upload are open; everything scoped to a session requires
// that session's bearer token.
func NewRouter(s *Server) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery())

	r.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", func(c *gin.Context) { ok(c, gin.H{"pong": true}) })

	v1 := r.Group("/v1")
	v1.POST("/sessions", s.CreateSession)
	v1.GET("/sessions", s.ListSessions)

	v1.GET("/usage", s.UsageStatus)
	v1.POST("/usage/simulate", s.SimulateUsage)
	v1.POST("/usage/reset", s.ResetUsage)

	v1.POST("/documents", s.UploadDocument)

	auth := v1.Group("/")
	auth.Use(AuthRequired(s.secret))
	auth.PATCH("/sessions/:id", s.RenameSession)
	auth.POST("/sessions/:id/touch", s.TouchSession)
	auth.DELETE("/sessions/:id", s.DeleteSession)
	auth.GET("/sessions/:id/messages", s.ListMessages)
	auth.POST("/sessions/:id/messages/import", s.ImportMessages)
	auth.POST("/chat/stream", s.StreamChat)

	return r
}
