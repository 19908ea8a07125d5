package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"outreach_backend/internal/campaigns/service"
	"outreach_backend/internal/campaigns/transport"
	"outreach_backend/platform/httpkit"
	"outreach_backend/platform/validator"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// maxCSVSize bounds the accepted campaign upload.
const maxCSVSize = 10 << 20

// StatusSource reports the live state of the call dispatcher.
type StatusSource interface {
	Status() transport.SystemStatus
}

// Handler handles HTTP requests for campaigns and appointments.
type Handler struct {
	svc    *service.Service
	status StatusSource
	val    *validator.Validator
}

// New creates a new campaigns handler.
func New(svc *service.Service, status StatusSource, val *validator.Validator) *Handler {
	return &Handler{svc: svc, status: status, val: val}
}

// RegisterRoutes registers the voicebot dashboard routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/campaigns", h.ListCampaigns)
	rg.POST("/campaigns/create", h.CreateCampaign)
	rg.GET("/campaigns/:id", h.GetCampaign)
	rg.POST("/campaigns/:id/start", h.StartCampaign)
	rg.POST("/campaigns/:id/pause", h.PauseCampaign)
	rg.POST("/campaigns/:id/stop", h.StopCampaign)
	rg.DELETE("/campaigns/:id", h.DeleteCampaign)
	rg.GET("/campaigns/:id/stats", h.CampaignStats)
	rg.GET("/campaigns/:id/calls", h.CampaignCalls)
	rg.GET("/campaigns/:id/appointments", h.CampaignAppointments)

	rg.GET("/calls/:id/transcription", h.CallTranscription)

	rg.GET("/appointments", h.ListAppointments)
	rg.PUT("/appointments/:id", h.UpdateAppointment)
	rg.PUT("/appointments/:id/status", h.UpdateAppointmentStatus)
	rg.DELETE("/appointments/:id", h.DeleteAppointment)

	rg.GET("/status", h.SystemStatus)
}

// ListCampaigns handles GET /api/voicebot/campaigns
func (h *Handler) ListCampaigns(c *gin.Context) {
	campaigns, err := h.svc.List(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.FromCampaigns(campaigns))
}

// CreateCampaign handles POST /api/voicebot/campaigns/create. Expects a
// multipart form with a campaignName field and a CSV file.
func (h *Handler) CreateCampaign(c *gin.Context) {
	name := c.PostForm("campaignName")
	if name == "" {
		name = c.PostForm("name")
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		file, header, err = c.Request.FormFile("csv")
	}
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "CSV file is required", nil)
		return
	}
	defer file.Close()

	reader := http.MaxBytesReader(c.Writer, file, maxCSVSize)
	campaign, err := h.svc.CreateFromCSV(c.Request.Context(), name, header.Filename, reader)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.Created(c, transport.FromCampaign(campaign))
}

// GetCampaign handles GET /api/voicebot/campaigns/:id
func (h *Handler) GetCampaign(c *gin.Context) {
	id, ok := h.campaignID(c)
	if !ok {
		return
	}

	campaign, err := h.svc.Get(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.FromCampaign(campaign))
}

// StartCampaign handles POST /api/voicebot/campaigns/:id/start
func (h *Handler) StartCampaign(c *gin.Context) {
	id, ok := h.campaignID(c)
	if !ok {
		return
	}

	if err := h.svc.Start(c.Request.Context(), id); httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"message": "campaign started"})
}

// PauseCampaign handles POST /api/voicebot/campaigns/:id/pause
func (h *Handler) PauseCampaign(c *gin.Context) {
	id, ok := h.campaignID(c)
	if !ok {
		return
	}

	if err := h.svc.Pause(c.Request.Context(), id); httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"message": "campaign paused"})
}

// StopCampaign handles POST /api/voicebot/campaigns/:id/stop
func (h *Handler) StopCampaign(c *gin.Context) {
	id, ok := h.campaignID(c)
	if !ok {
		return
	}

	if err := h.svc.Stop(c.Request.Context(), id); httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"message": "campaign stopped"})
}

// DeleteCampaign handles DELETE /api/voicebot/campaigns/:id
func (h *Handler) DeleteCampaign(c *gin.Context) {
	id, ok := h.campaignID(c)
	if !ok {
		return
	}

	if err := h.svc.Delete(c.Request.Context(), id); httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"message": "campaign deleted"})
}

// CampaignStats handles GET /api/voicebot/campaigns/:id/stats
func (h *Handler) CampaignStats(c *gin.Context) {
	id, ok := h.campaignID(c)
	if !ok {
		return
	}

	campaign, err := h.svc.Stats(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.FromCampaign(campaign))
}

// CampaignCalls handles GET /api/voicebot/campaigns/:id/calls
func (h *Handler) CampaignCalls(c *gin.Context) {
	id, ok := h.campaignID(c)
	if !ok {
		return
	}

	calls, err := h.svc.Calls(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.FromCalls(calls))
}

// CampaignAppointments handles GET /api/voicebot/campaigns/:id/appointments
func (h *Handler) CampaignAppointments(c *gin.Context) {
	id, ok := h.campaignID(c)
	if !ok {
		return
	}

	appointments, err := h.svc.Appointments(c.Request.Context(), &id)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.FromAppointments(appointments))
}

// CallTranscription handles GET /api/voicebot/calls/:id/transcription
func (h *Handler) CallTranscription(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	turns, err := h.svc.Transcript(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.FromTurns(turns))
}

// ListAppointments handles GET /api/voicebot/appointments
func (h *Handler) ListAppointments(c *gin.Context) {
	var campaignID *uuid.UUID
	if raw := c.Query("campaignId"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
			return
		}
		campaignID = &parsed
	}

	appointments, err := h.svc.Appointments(c.Request.Context(), campaignID)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.FromAppointments(appointments))
}

// UpdateAppointment handles PUT /api/voicebot/appointments/:id
func (h *Handler) UpdateAppointment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	var req transport.UpdateAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	if err := h.svc.UpdateAppointment(c.Request.Context(), id, req.AppointmentDate, req.AppointmentTime, req.InterestLevel); httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"message": "appointment updated"})
}

// UpdateAppointmentStatus handles PUT /api/voicebot/appointments/:id/status
func (h *Handler) UpdateAppointmentStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	var req transport.UpdateAppointmentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	if err := h.svc.UpdateAppointmentStatus(c.Request.Context(), id, req.Status); httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"message": "appointment status updated"})
}

// DeleteAppointment handles DELETE /api/voicebot/appointments/:id
func (h *Handler) DeleteAppointment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	if err := h.svc.DeleteAppointment(c.Request.Context(), id); httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"message": "appointment deleted"})
}

// SystemStatus handles GET /api/voicebot/status
func (h *Handler) SystemStatus(c *gin.Context) {
	httpkit.OK(c, h.status.Status())
}

func (h *Handler) campaignID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return uuid.UUID{}, false
	}
	return id, true
}
