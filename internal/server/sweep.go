package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RunSweep is the cron trigger: one full sweep pass, synchronously.
// Per-item failures land in the summary, not the status code, so the
// caller's scheduler does not retry a pass that already ran.
func (s *Server) RunSweep(c *gin.Context) {
	summary, _ := s.sweeper.RunOnce(c.Request.Context())
	c.JSON(http.StatusOK, summary)
}
