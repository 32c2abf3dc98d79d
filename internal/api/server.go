package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/romangod6/docs-crawler/internal/storage"
	"github.com/sirupsen/logrus"
)

type Server struct {
	router *gin.Engine
	port   int
	server *http.Server
}

func NewServer(port int, store storage.Store, crawler SourceCrawler, logger logrus.FieldLogger) *Server {
	router := gin.Default()

	// Setup CORS
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	handler := NewHandler(store, crawler, logger)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		})

		api.GET("/sitemaps", handler.DiscoverSitemaps)

		documents := api.Group("/documents")
		{
			documents.GET("", handler.ListDocuments)
			documents.GET("/search", handler.SearchDocuments)
			documents.GET("/:id", handler.GetDocument)
		}

		sources := api.Group("/sources")
		{
			sources.GET("", handler.ListSources)
			sources.POST("", handler.CreateSource)
			sources.GET("/:id", handler.GetSource)
			sources.PUT("/:id", handler.UpdateSource)
			sources.DELETE("/:id", handler.DeleteSource)
			sources.GET("/:id/documents", handler.ListSourceDocuments)
			sources.POST("/:id/crawl", handler.TriggerCrawl)
		}
	}

	return &Server{
		router: router,
		port:   port,
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
