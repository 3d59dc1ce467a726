package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sooftware/End-to-end-Speech-Recognition/api"
)

// ListHandler serves GET /api/models with the model directories the server
// can resolve.
func (s *Server) ListHandler(c *gin.Context) {
	models, err := s.models.list()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if models == nil {
		models = []api.ModelInfo{}
	}

	c.JSON(http.StatusOK, api.ListResponse{Models: models})
}
