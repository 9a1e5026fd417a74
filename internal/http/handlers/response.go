// Package handlers implements the admin API: statistics, user and report
// listings, and queued broadcasts. Every failure is written as an
// ErrorResponse so clients see a single error shape.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/tg-ai-assistant/internal/http/middleware"
	"github.com/tbourn/tg-ai-assistant/internal/utils"
)

const maxPageSize = 100

// ErrorResponse is the error envelope of the admin API.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	Code      string `json:"code" example:"queue_full"`
	Message   string `json:"message" example:"background queue is full, retry later"`
}

// Fail aborts with an ErrorResponse. Server errors are also logged on the
// request logger.
func Fail(c *gin.Context, status int, code, msg string) {
	rid := middleware.RequestIDFrom(c)
	if rid == "" {
		rid = c.Writer.Header().Get("X-Request-ID")
	}
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("error", msg).
			Msg("admin api failure")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{RequestID: rid, Code: code, Message: msg})
}

func fail(c *gin.Context, status int, code, msg string) { Fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) { c.JSON(status, body) }

// Pagination describes one page of a list response.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	pages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{Page: page, PageSize: pageSize, Total: total, TotalPages: pages, HasNext: page < pages}
}

// clampPagination reads page and page_size, falling back to defaults on
// garbage and bounding page_size to [1, maxPageSize].
func clampPagination(c *gin.Context) (page, pageSize int) {
	page = max(utils.AtoiDefault(c.Query("page"), 1), 1)
	pageSize = utils.Clamp(utils.AtoiDefault(c.Query("page_size"), utils.DefaultPageSize), 1, maxPageSize)
	return page, pageSize
}
