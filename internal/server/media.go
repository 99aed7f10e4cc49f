package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) UploadMedia(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		AbortWithError(c, newValidationError("file", "missing_file", "multipart field \"file\" is required"))
		return
	}

	src, err := file.Open()
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer src.Close()

	stored, err := s.storage.Store(c.Request.Context(), accountID, file.Filename, src, file.Size)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stored)
}
