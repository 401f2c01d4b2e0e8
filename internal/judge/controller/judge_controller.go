package controller

import (
	"context"
	"time"

	"codejudger/internal/judge/model"
	"codejudger/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// SubmissionService is what the HTTP layer needs from ingress.
type SubmissionService interface {
	Submit(ctx context.Context, job *model.Job) (string, error)
	SubmitWithID(ctx context.Context, submissionID string, job *model.Job) error
	Rejudge(ctx context.Context, submissionID string) error
	GetStatus(ctx context.Context, submissionID string) (model.StatusRecord, error)
}

// JudgeController handles submission and status requests.
type JudgeController struct {
	svc          SubmissionService
	pollInterval time.Duration
}

// NewJudgeController creates a new controller. pollInterval paces the
// status watch stream; zero selects 500ms.
func NewJudgeController(svc SubmissionService, pollInterval time.Duration) *JudgeController {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &JudgeController{svc: svc, pollInterval: pollInterval}
}

// RegisterRoutes mounts the submission API on r. guards run in front of the
// routes that enqueue work.
func (h *JudgeController) RegisterRoutes(r gin.IRouter, guards ...gin.HandlerFunc) {
	enqueue := func(handler gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, guards...), handler)
	}
	r.POST("/submissions", enqueue(h.Submit)...)
	r.POST("/submissions/:id", enqueue(h.SubmitWithID)...)
	r.GET("/submissions/:id", h.GetStatus)
	r.POST("/submissions/:id/rejudge", enqueue(h.Rejudge)...)
	r.GET("/submissions/:id/watch", h.WatchStatus)
}

type acceptedResponse struct {
	SubmissionID string       `json:"submission_id"`
	Status       model.Status `json:"status"`
}

// Submit accepts a job and assigns it an id.
func (h *JudgeController) Submit(c *gin.Context) {
	var job model.Job
	if err := c.ShouldBindJSON(&job); err != nil {
		response.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	id, err := h.svc.Submit(c.Request.Context(), &job)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, acceptedResponse{SubmissionID: id, Status: model.StatusPending})
}

// SubmitWithID accepts a job under the id in the path.
func (h *JudgeController) SubmitWithID(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	var job model.Job
	if err := c.ShouldBindJSON(&job); err != nil {
		response.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if err := h.svc.SubmitWithID(c.Request.Context(), submissionID, &job); err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, acceptedResponse{SubmissionID: submissionID, Status: model.StatusPending})
}

// GetStatus returns status for one submission.
func (h *JudgeController) GetStatus(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	status, err := h.svc.GetStatus(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status)
}

// Rejudge resets a submission to Pending and queues it again.
func (h *JudgeController) Rejudge(c *gin.Context) {
	submissionID := c.Param("id")
	if err := h.svc.Rejudge(c.Request.Context(), submissionID); err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, acceptedResponse{SubmissionID: submissionID, Status: model.StatusPending})
}
