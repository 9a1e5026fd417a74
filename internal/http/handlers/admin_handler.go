// Admin API handlers.
//
// This file exposes the read-mostly admin API mounted under API_BASE_PATH:
//   - GET  /stats        (headline numbers and the 30-day ranking)
//   - GET  /users        (paginated user list)
//   - GET  /reports      (paginated user reports)
//   - POST /broadcasts   (queue a broadcast; idempotent with Idempotency-Key)
//
// All routes sit behind BearerAuth. Handlers are transport-thin: they
// validate input, call the admin service and translate results.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/tg-ai-assistant/internal/domain"
	"github.com/tbourn/tg-ai-assistant/internal/http/middleware"
	"github.com/tbourn/tg-ai-assistant/internal/repo"
	"github.com/tbourn/tg-ai-assistant/internal/services"
)

//
// Service contracts (context-aware)
//

// AdminService is the part of services.AdminService the API consumes.
type AdminService interface {
	Summary(ctx context.Context) (*services.Summary, error)
	ListUsersPage(ctx context.Context, page, pageSize int) ([]domain.User, int64, error)
	ListReportsPage(ctx context.Context, page, pageSize int) ([]domain.Report, int64, error)
	Broadcast(ctx context.Context, progressChatID int64, text string) (services.BroadcastResult, error)
}

// Submitter queues background work and reports when it cannot.
type Submitter interface {
	Submit(name string, fn func(ctx context.Context) error) error
}

//
// Handler wiring
//

// Handlers groups the admin API endpoints.
type Handlers struct {
	db      *gorm.DB // idempotency records
	admin   AdminService
	tasks   Submitter
	idemTTL time.Duration
}

// New constructs Handlers. A non-positive ttl defaults to 24h.
func New(db *gorm.DB, admin AdminService, tasks Submitter, ttl time.Duration) *Handlers {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Handlers{db: db, admin: admin, tasks: tasks, idemTTL: ttl}
}

// maxBroadcastRunes matches Telegram's message limit.
const maxBroadcastRunes = 4096

//
// DTOs
//

// BroadcastRequest is the JSON payload for queuing a broadcast.
type BroadcastRequest struct {
	// Text is sent verbatim to every active user.
	Text string `json:"text" binding:"required" example:"Yangi imkoniyatlar qo'shildi!"`
	// ProgressChatID optionally names a chat that receives progress updates.
	ProgressChatID int64 `json:"progress_chat_id,omitempty" example:"123456789"`
}

// BroadcastAccepted is returned once a broadcast is queued (or replayed).
type BroadcastAccepted struct {
	ID     string `json:"id" example:"6f1c2a0e-6d1b-4a53-9b39-0c2f1b8f4d11"`
	Status string `json:"status" example:"queued"`
}

// ListUsersResponse wraps a page of users and pagination information.
type ListUsersResponse struct {
	Users      []domain.User `json:"users"`
	Pagination Pagination    `json:"pagination"`
}

// ListReportsResponse wraps a page of reports and pagination information.
type ListReportsResponse struct {
	Reports    []domain.Report `json:"reports"`
	Pagination Pagination      `json:"pagination"`
}

//
// Handlers
//

// Stats godoc
// @ID          getStats
// @Summary     Bot statistics
// @Description Returns user counts, report count, the most active users and the 30-day top 10. Admins are left out of rankings.
// @Tags        Admin
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object}  services.Summary
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /stats [get]
func (h *Handlers) Stats(c *gin.Context) {
	sum, err := h.admin.Summary(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeStatsFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, sum)
}

// ListUsers godoc
// @ID          listUsers
// @Summary     List users (paginated)
// @Description Returns a page of users, newest first.
// @Tags        Admin
// @Produce     json
// @Security    BearerAuth
//
// @Param       page       query   int  false  "Page number"     minimum(1) default(1)
// @Param       page_size  query   int  false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListUsersResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /users [get]
func (h *Handlers) ListUsers(c *gin.Context) {
	page, pageSize := clampPagination(c)
	items, total, err := h.admin.ListUsersPage(c.Request.Context(), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListUsersResponse{Users: items, Pagination: newPagination(page, pageSize, total)})
}

// ListReports godoc
// @ID          listReports
// @Summary     List reports (paginated)
// @Description Returns a page of user reports, newest first.
// @Tags        Admin
// @Produce     json
// @Security    BearerAuth
//
// @Param       page       query   int  false  "Page number"     minimum(1) default(1)
// @Param       page_size  query   int  false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListReportsResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /reports [get]
func (h *Handlers) ListReports(c *gin.Context) {
	page, pageSize := clampPagination(c)
	items, total, err := h.admin.ListReportsPage(c.Request.Context(), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListReportsResponse{Reports: items, Pagination: newPagination(page, pageSize, total)})
}

// CreateBroadcast godoc
// @ID          createBroadcast
// @Summary     Queue a broadcast
// @Description Queues a message to every active user. With an Idempotency-Key, repeating the request returns the original broadcast id instead of sending twice.
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string                      false  "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.BroadcastRequest   true   "Broadcast payload"
//
// @Success     202  {object}  handlers.BroadcastAccepted  "Queued"
// @Success     200  {object}  handlers.BroadcastAccepted  "Replayed"
// @Header      200  {string}  Idempotency-Replayed        "true on replay"
// @Failure     400  {object}  handlers.ErrorResponse      "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse      "Unauthorized"
// @Failure     503  {object}  handlers.ErrorResponse      "Queue full"
// @Router      /broadcasts [post]
func (h *Handlers) CreateBroadcast(c *gin.Context) {
	ctx := c.Request.Context()

	var req BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text required")
		return
	}
	if utf8.RuneCountInString(text) > maxBroadcastRunes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text too long")
		return
	}

	actor := middleware.Actor(c)
	scope := middleware.Scope(c)
	key, hasKey := middleware.GetIdempotencyKey(c)
	if hasKey {
		if rec, err := repo.GetIdempotency(ctx, h.db, actor, scope, key, time.Now().UTC()); err == nil {
			h.replay(c, rec.ResourceID)
			return
		}
	}

	id := uuid.NewString()
	if hasKey {
		// Claim the key before queuing so concurrent duplicates cannot both send.
		_, err := repo.CreateIdempotency(ctx, h.db, actor, scope, key, id, http.StatusAccepted, h.idemTTL)
		if errors.Is(err, repo.ErrDuplicate) {
			if rec, gerr := repo.GetIdempotency(ctx, h.db, actor, scope, key, time.Now().UTC()); gerr == nil {
				h.replay(c, rec.ResourceID)
				return
			}
			fail(c, http.StatusConflict, ErrCodeConflict, "idempotency key in use")
			return
		}
		if err != nil {
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
			return
		}
	}

	lg := middleware.LoggerFrom(c).With().Str("broadcast_id", id).Logger()
	err := h.tasks.Submit("broadcast", func(ctx context.Context) error {
		res, err := h.admin.Broadcast(ctx, req.ProgressChatID, text)
		lg.Info().
			Int("total", res.Total).
			Int("sent", res.Sent).
			Int("failed", res.Failed).
			AnErr("error", err).
			Msg("api broadcast finished")
		return err
	})
	if err != nil {
		if hasKey {
			if derr := repo.DeleteIdempotency(ctx, h.db, actor, scope, key); derr != nil {
				lg.Warn().Err(derr).Msg("release idempotency key")
			}
		}
		fail(c, http.StatusServiceUnavailable, ErrCodeQueueFull, "background queue is full, retry later")
		return
	}
	lg.Info().Msg("api broadcast queued")
	ok(c, http.StatusAccepted, BroadcastAccepted{ID: id, Status: "queued"})
}

func (h *Handlers) replay(c *gin.Context, id string) {
	c.Header("Idempotency-Replayed", "true")
	ok(c, http.StatusOK, BroadcastAccepted{ID: id, Status: "replayed"})
}
