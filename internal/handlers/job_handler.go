package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sjperalta/fintera-sign-api/internal/services"
)

type JobHandler struct {
	jobService *services.JobService
}

func NewJobHandler(jobSvc *services.JobService) *JobHandler {
	return &JobHandler{
		jobService: jobSvc,
	}
}

// Status returns the worker statistics and the last expiry sweep
// @Summary Get background job status
// @Description Worker statistics plus the schedule and outcome of the expiry sweep
// @Tags Jobs
// @Produce json
// @Security BearerAuth
// @Success 200 {object} services.JobStatus
// @Router /jobs/status [get]
func (h *JobHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.jobService.GetStatus())
}

// SweepExpired queues an expiry sweep now
// @Summary Run the expiry sweep
// @Description Queues a sweep that deletes pending signature requests past their deadline
// @Tags Jobs
// @Produce json
// @Security BearerAuth
// @Success 202 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /jobs/expiry-sweep [post]
func (h *JobHandler) SweepExpired(c *gin.Context) {
	if err := h.jobService.TriggerExpirySweep(); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Barrido de solicitudes expiradas en cola"})
}
