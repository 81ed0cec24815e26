package handlers

import (
	"net/http"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/chantier/internal/interfaces"
)

type triggerJobRequest struct {
	Name string `json:"name" validate:"required"`
}

// SchedulerHandler exposes the background job schedule
type SchedulerHandler struct {
	schedulerService interfaces.SchedulerService
	validate         *validator.Validate
	logger           arbor.ILogger
}

// NewSchedulerHandler creates a new scheduler handler
func NewSchedulerHandler(schedulerService interfaces.SchedulerService, logger arbor.ILogger) *SchedulerHandler {
	return &SchedulerHandler{
		schedulerService: schedulerService,
		validate:         NewValidator(),
		logger:           logger,
	}
}

// ListJobsHandler handles GET /rag/jobs
func (h *SchedulerHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	statuses := h.schedulerService.GetAllJobStatuses()
	jobs := make([]*interfaces.JobStatus, 0, len(statuses))
	for _, status := range statuses {
		jobs = append(jobs, status)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"running": h.schedulerService.IsRunning(),
		"jobs":    jobs,
	})
}

// TriggerJobHandler handles POST /rag/jobs/trigger
func (h *SchedulerHandler) TriggerJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req triggerJobRequest
	if !DecodeAndValidate(w, r, h.validate, &req) {
		return
	}

	if err := h.schedulerService.TriggerJob(req.Name); err != nil {
		WriteError(w, http.StatusNotFound, interfaces.KindNotFound, err.Error())
		return
	}

	h.logger.Info().Str("job", req.Name).Str("user_id", UserID(r)).Msg("Job triggered manually")
	WriteStarted(w, "Job triggered")
}
