package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meterline/meterline/internal/schema"
	usagedomain "github.com/meterline/meterline/internal/usage/domain"
)

// Capabilities describes the ingest contract for client discovery.
func (s *Server) Capabilities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"maxBatchSize":        usagedomain.MaxBatchSize,
		"supportedEventTypes": s.registry.EventTypes(),
		"meters":              s.registry.MeterNames(),
	})
}

func (s *Server) ListSchemas(c *gin.Context) {
	entries := s.registry.All()
	descriptions := make([]schema.Description, 0, len(entries))
	for _, entry := range entries {
		descriptions = append(descriptions, schema.Render(entry))
	}
	c.JSON(http.StatusOK, gin.H{"schemas": descriptions})
}

func (s *Server) GetSchema(c *gin.Context) {
	entry, err := s.registry.Get(c.Param("eventType"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, schema.Render(entry))
}
