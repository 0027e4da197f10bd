// Package controller exposes the submission HTTP API.
package controller

import (
	"context"

	"github.com/gin-gonic/gin"

	"judgeflow/internal/common/http/middleware"
	"judgeflow/internal/judge/model"
	"judgeflow/internal/submission/repository"
	"judgeflow/internal/submission/service"
	"judgeflow/pkg/utils/response"
)

// SubmissionService is the service surface the controller needs.
type SubmissionService interface {
	Submit(ctx context.Context, input service.SubmitInput) (string, error)
	GetDetails(ctx context.Context, requester service.Requester, submissionID string) (*service.Details, error)
	ListSubmissions(ctx context.Context, requester service.Requester, filter repository.ListFilter) ([]*model.Submission, int64, error)
	RequeueFailed(ctx context.Context, requester service.Requester, submissionID string) error
}

// SubmissionController handles the /submissions routes.
type SubmissionController struct {
	service SubmissionService
}

// NewSubmissionController creates the controller.
func NewSubmissionController(svc SubmissionService) *SubmissionController {
	return &SubmissionController{service: svc}
}

// RegisterRoutes mounts the submission API under the given group. The group
// is expected to already carry the auth middleware.
func (sc *SubmissionController) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/submissions", sc.Submit)
	group.GET("/submissions", sc.List)
	group.GET("/submissions/:id", sc.Get)
	group.POST("/submissions/:id/requeue", sc.Requeue)
}

type submitRequest struct {
	ProblemID int64  `json:"problem_id" binding:"required"`
	Language  string `json:"language" binding:"required"`
	Code      string `json:"code" binding:"required"`
}

// Submit accepts a new submission and responds 202 with its ID. Grading is
// asynchronous; the caller polls the detail endpoint for the verdict.
func (sc *SubmissionController) Submit(c *gin.Context) {
	identity, ok := middleware.CurrentUser(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}

	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	submissionID, err := sc.service.Submit(c.Request.Context(), service.SubmitInput{
		UserID:    identity.UserID,
		ProblemID: req.ProblemID,
		Language:  req.Language,
		Code:      req.Code,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Accepted(c, gin.H{
		"submission_id": submissionID,
		"status":        model.StatusPending,
	})
}

// Get returns the composed detail view for one submission.
func (sc *SubmissionController) Get(c *gin.Context) {
	identity, ok := middleware.CurrentUser(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}

	details, err := sc.service.GetDetails(c.Request.Context(), requesterFrom(identity), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, details)
}

// List returns a page of submissions, newest first.
func (sc *SubmissionController) List(c *gin.Context) {
	identity, ok := middleware.CurrentUser(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}

	var query struct {
		UserID   int64  `form:"user_id"`
		Status   string `form:"status"`
		Language string `form:"language"`
		Page     int    `form:"page,default=1"`
		PageSize int    `form:"page_size,default=20"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		response.BadRequest(c, "invalid query parameters")
		return
	}
	if query.Page <= 0 {
		query.Page = 1
	}
	if query.PageSize <= 0 || query.PageSize > 100 {
		query.PageSize = 20
	}
	if query.Status != "" && !model.SubmissionStatus(query.Status).IsValid() {
		response.BadRequest(c, "unknown status filter")
		return
	}

	submissions, total, err := sc.service.ListSubmissions(c.Request.Context(), requesterFrom(identity), repository.ListFilter{
		UserID:   query.UserID,
		Status:   model.SubmissionStatus(query.Status),
		Language: query.Language,
		Page:     query.Page,
		PageSize: query.PageSize,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithPagination(c, submissions, total, query.Page, query.PageSize)
}

// Requeue flips a FAILED submission back to PENDING and enqueues it again.
// Operator tooling; admin only.
func (sc *SubmissionController) Requeue(c *gin.Context) {
	identity, ok := middleware.CurrentUser(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}

	if err := sc.service.RequeueFailed(c.Request.Context(), requesterFrom(identity), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{
		"submission_id": c.Param("id"),
		"status":        model.StatusPending,
	})
}

func requesterFrom(identity middleware.Identity) service.Requester {
	return service.Requester{UserID: identity.UserID, IsAdmin: identity.IsAdmin()}
}
