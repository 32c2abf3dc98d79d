package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/romangod6/docs-crawler/internal/crawler"
	"github.com/romangod6/docs-crawler/internal/models"
	"github.com/romangod6/docs-crawler/internal/storage"
	"github.com/sirupsen/logrus"
)

// SourceCrawler runs crawls and sitemap lookups on behalf of the API.
type SourceCrawler interface {
	Claim(ctx context.Context, source *models.Source) error
	RunClaimed(ctx context.Context, source *models.Source) (*crawler.CrawlResult, error)
	RankedEntries(ctx context.Context, baseURL string, include, exclude []string) []models.SitemapEntry
}

type Handler struct {
	store   storage.Store
	crawler SourceCrawler
	logger  logrus.FieldLogger
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type PaginationResponse struct {
	Data  interface{} `json:"data"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
}

// SourceRequest is the body of create and update calls.
type SourceRequest struct {
	Name            string   `json:"name" binding:"required"`
	BaseURL         string   `json:"baseUrl" binding:"required,url"`
	UserAgent       string   `json:"userAgent"`
	CrawlInterval   string   `json:"crawlInterval"`
	MaxPages        int      `json:"maxPages" binding:"min=0"`
	IncludePatterns []string `json:"includePatterns"`
	ExcludePatterns []string `json:"excludePatterns"`
}

func (r SourceRequest) apply(source *models.Source) {
	source.Name = r.Name
	source.BaseURL = r.BaseURL
	source.UserAgent = r.UserAgent
	source.CrawlInterval = r.CrawlInterval
	source.MaxPages = r.MaxPages
	source.IncludePatterns = r.IncludePatterns
	source.ExcludePatterns = r.ExcludePatterns
	source.UpdatedAt = time.Now()
}

func NewHandler(store storage.Store, crawler SourceCrawler, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{store: store, crawler: crawler, logger: logger}
}

func (h *Handler) ListDocuments(c *gin.Context) {
	page, limit := getPaginationParams(c)
	offset := (page - 1) * limit

	docs, err := h.store.ListDocuments(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list documents")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to fetch documents"})
		return
	}

	c.JSON(http.StatusOK, PaginationResponse{
		Data:  nonNil(docs),
		Page:  page,
		Limit: limit,
	})
}

func (h *Handler) GetDocument(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid document ID"})
		return
	}

	doc, err := h.store.GetDocument(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Document not found"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to fetch document")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to fetch document"})
		return
	}

	c.JSON(http.StatusOK, doc)
}

func (h *Handler) SearchDocuments(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Search query is required"})
		return
	}

	page, limit := getPaginationParams(c)
	offset := (page - 1) * limit

	docs, err := h.store.SearchDocuments(c.Request.Context(), query, limit, offset)
	if err != nil {
		h.logger.WithError(err).Error("Failed to search documents")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to search documents"})
		return
	}

	c.JSON(http.StatusOK, PaginationResponse{
		Data:  nonNil(docs),
		Page:  page,
		Limit: limit,
	})
}

func (h *Handler) ListSources(c *gin.Context) {
	sources, err := h.store.ListSources(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list sources")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to fetch sources"})
		return
	}

	c.JSON(http.StatusOK, nonNil(sources))
}

func (h *Handler) GetSource(c *gin.Context) {
	source, ok := h.loadSource(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, source)
}

func (h *Handler) CreateSource(c *gin.Context) {
	var req SourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid source data: " + err.Error()})
		return
	}
	if !validInterval(req.CrawlInterval) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid crawl interval"})
		return
	}

	source := models.NewSource(req.Name, req.BaseURL)
	req.apply(source)

	if err := h.store.CreateSource(c.Request.Context(), source); err != nil {
		h.logger.WithError(err).Error("Failed to create source")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to create source"})
		return
	}

	c.JSON(http.StatusCreated, source)
}

func (h *Handler) UpdateSource(c *gin.Context) {
	source, ok := h.loadSource(c)
	if !ok {
		return
	}

	var req SourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid source data: " + err.Error()})
		return
	}
	if !validInterval(req.CrawlInterval) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid crawl interval"})
		return
	}

	req.apply(source)

	if err := h.store.UpdateSource(c.Request.Context(), source); err != nil {
		h.logger.WithError(err).Error("Failed to update source")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to update source"})
		return
	}

	c.JSON(http.StatusOK, source)
}

func (h *Handler) DeleteSource(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid source ID"})
		return
	}

	err = h.store.DeleteSource(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Source not found"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to delete source")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to delete source"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *Handler) ListSourceDocuments(c *gin.Context) {
	source, ok := h.loadSource(c)
	if !ok {
		return
	}

	page, limit := getPaginationParams(c)
	offset := (page - 1) * limit

	docs, err := h.store.ListDocumentsBySource(c.Request.Context(), source.ID, limit, offset)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list source documents")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to fetch documents"})
		return
	}

	c.JSON(http.StatusOK, PaginationResponse{
		Data:  nonNil(docs),
		Page:  page,
		Limit: limit,
	})
}

// TriggerCrawl starts a crawl of the source in the background.
func (h *Handler) TriggerCrawl(c *gin.Context) {
	source, ok := h.loadSource(c)
	if !ok {
		return
	}

	err := h.crawler.Claim(c.Request.Context(), source)
	switch {
	case errors.Is(err, crawler.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "Crawl already running"})
		return
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Source not found"})
		return
	case err != nil:
		h.logger.WithError(err).Error("Failed to start crawl")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to start crawl"})
		return
	}

	run := *source
	go func() {
		logger := h.logger.WithField("source", run.Name)
		logger.Info("Starting crawl from API request")
		if _, err := h.crawler.RunClaimed(context.Background(), &run); err != nil {
			logger.WithError(err).Error("Crawl failed")
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "started", "source": source})
}

// DiscoverSitemaps previews the ranked sitemap entries of a site without
// crawling it.
func (h *Handler) DiscoverSitemaps(c *gin.Context) {
	siteURL := c.Query("url")
	if siteURL == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "url is required"})
		return
	}

	entries := h.crawler.RankedEntries(c.Request.Context(), siteURL, c.QueryArray("include"), c.QueryArray("exclude"))

	c.JSON(http.StatusOK, gin.H{
		"url":     siteURL,
		"count":   len(entries),
		"entries": nonNil(entries),
	})
}

func (h *Handler) loadSource(c *gin.Context) (*models.Source, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid source ID"})
		return nil, false
	}

	source, err := h.store.GetSource(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Source not found"})
		return nil, false
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to fetch source")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to fetch source"})
		return nil, false
	}

	return source, true
}

// Utility functions
func getPaginationParams(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "10"))

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}

	return page, limit
}

func validInterval(interval string) bool {
	if interval == "" {
		return true
	}
	d, err := time.ParseDuration(interval)
	return err == nil && d > 0
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
