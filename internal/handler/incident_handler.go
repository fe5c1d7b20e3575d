package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/hr-incidents-api/internal/dto"
	"github.com/noah-isme/hr-incidents-api/internal/models"
	"github.com/noah-isme/hr-incidents-api/internal/service"
	appErrors "github.com/noah-isme/hr-incidents-api/pkg/errors"
	"github.com/noah-isme/hr-incidents-api/pkg/response"
)

type incidentService interface {
	Create(ctx context.Context, req dto.CreateIncidentRequest, actor *models.JWTClaims) (*models.Incident, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Incident, error)
	List(ctx context.Context, query dto.IncidentQuery, actor *models.JWTClaims) ([]models.Incident, error)
	Transition(ctx context.Context, id string, req dto.TransitionRequest, actor *models.JWTClaims) (*models.Incident, error)
	Approve(ctx context.Context, id, comment string, actor *models.JWTClaims) (*models.Incident, error)
	Reject(ctx context.Context, id, comment string, actor *models.JWTClaims) (*models.Incident, error)
	Edit(ctx context.Context, id string, req dto.UpdateIncidentRequest, actor *models.JWTClaims) (*models.Incident, error)
	MoveToBin(ctx context.Context, id string, req dto.BinRequest, actor *models.JWTClaims) error
	Recover(ctx context.Context, id string, actor *models.JWTClaims) (*models.Incident, error)
}

type incidentExporter interface {
	Export(ctx context.Context, query dto.IncidentQuery, format service.ExportFormat, actor *models.JWTClaims) (*service.ExportResult, error)
}

// IncidentHandler exposes REST endpoints for the incident lifecycle.
type IncidentHandler struct {
	service  incidentService
	exporter incidentExporter
}

// NewIncidentHandler constructs the handler.
func NewIncidentHandler(svc incidentService, exporter incidentExporter) *IncidentHandler {
	return &IncidentHandler{service: svc, exporter: exporter}
}

// Create godoc
// @Summary Register a new incident
// @Tags Incidents
// @Accept json
// @Produce json
// @Param payload body dto.CreateIncidentRequest true "Incident payload"
// @Success 201 {object} response.Envelope
// @Router /incidents [post]
func (h *IncidentHandler) Create(c *gin.Context) {
	var req dto.CreateIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid incident payload"))
		return
	}
	claims := claimsFromContext(c)
	incident, err := h.service.Create(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, incident, nil)
}

// List godoc
// @Summary List visible incidents
// @Tags Incidents
// @Produce json
// @Param state query string false "Comma separated states"
// @Param worker_id query string false "Worker identifier"
// @Param subtype query string false "Subtype name"
// @Param deleted query bool false "Browse the recycle bin (admin only)"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /incidents [get]
func (h *IncidentHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	query := parseIncidentQuery(c)
	incidents, err := h.service.List(c.Request.Context(), query, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, incidents, nil)
}

// Get godoc
// @Summary Get incident detail
// @Tags Incidents
// @Produce json
// @Param id path string true "Incident ID"
// @Success 200 {object} response.Envelope
// @Router /incidents/{id} [get]
func (h *IncidentHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	incident, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, incident, nil)
}

// Transition godoc
// @Summary Execute an explicit state transition
// @Tags Incidents
// @Accept json
// @Produce json
// @Param id path string true "Incident ID"
// @Param payload body dto.TransitionRequest true "Requested state"
// @Success 200 {object} response.Envelope
// @Router /incidents/{id}/transition [post]
func (h *IncidentHandler) Transition(c *gin.Context) {
	var req dto.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid transition payload"))
		return
	}
	claims := claimsFromContext(c)
	incident, err := h.service.Transition(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, incident, nil)
}

// Approve godoc
// @Summary Approve the incident's current stage
// @Tags Incidents
// @Accept json
// @Produce json
// @Param id path string true "Incident ID"
// @Param payload body dto.DecisionRequest false "Optional comment"
// @Success 200 {object} response.Envelope
// @Router /incidents/{id}/approve [post]
func (h *IncidentHandler) Approve(c *gin.Context) {
	var req dto.DecisionRequest
	_ = c.ShouldBindJSON(&req)
	claims := claimsFromContext(c)
	incident, err := h.service.Approve(c.Request.Context(), c.Param("id"), req.Comment, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, incident, nil)
}

// Reject godoc
// @Summary Reject the incident with a mandatory comment
// @Tags Incidents
// @Accept json
// @Produce json
// @Param id path string true "Incident ID"
// @Param payload body dto.DecisionRequest true "Rejection comment"
// @Success 200 {object} response.Envelope
// @Router /incidents/{id}/reject [post]
func (h *IncidentHandler) Reject(c *gin.Context) {
	var req dto.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid rejection payload"))
		return
	}
	claims := claimsFromContext(c)
	incident, err := h.service.Reject(c.Request.Context(), c.Param("id"), req.Comment, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, incident, nil)
}

// Update godoc
// @Summary Edit incident business fields
// @Tags Incidents
// @Accept json
// @Produce json
// @Param id path string true "Incident ID"
// @Param payload body dto.UpdateIncidentRequest true "Editable fields"
// @Success 200 {object} response.Envelope
// @Router /incidents/{id} [put]
func (h *IncidentHandler) Update(c *gin.Context) {
	var req dto.UpdateIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid update payload"))
		return
	}
	claims := claimsFromContext(c)
	incident, err := h.service.Edit(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, incident, nil)
}

// MoveToBin godoc
// @Summary Move an incident to the recycle bin
// @Tags Incidents
// @Accept json
// @Produce json
// @Param id path string true "Incident ID"
// @Param payload body dto.BinRequest false "Optional reason"
// @Success 204
// @Router /incidents/{id}/bin [patch]
func (h *IncidentHandler) MoveToBin(c *gin.Context) {
	var req dto.BinRequest
	_ = c.ShouldBindJSON(&req)
	claims := claimsFromContext(c)
	if err := h.service.MoveToBin(c.Request.Context(), c.Param("id"), req, claims); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Recover godoc
// @Summary Restore an incident from the recycle bin
// @Tags Incidents
// @Produce json
// @Param id path string true "Incident ID"
// @Success 200 {object} response.Envelope
// @Router /incidents/{id}/recover [patch]
func (h *IncidentHandler) Recover(c *gin.Context) {
	claims := claimsFromContext(c)
	incident, err := h.service.Recover(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, incident, nil)
}

// Export godoc
// @Summary Export visible incidents as CSV or PDF
// @Tags Incidents
// @Produce octet-stream
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Router /incidents/export [get]
func (h *IncidentHandler) Export(c *gin.Context) {
	if h.exporter == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "export service not configured"))
		return
	}
	claims := claimsFromContext(c)
	format := service.ExportFormat(strings.ToLower(c.DefaultQuery("format", "csv")))
	result, err := h.exporter.Export(c.Request.Context(), parseIncidentQuery(c), format, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+result.FileName+`"`)
	c.Data(http.StatusOK, result.ContentType, result.Content)
}

func parseIncidentQuery(c *gin.Context) dto.IncidentQuery {
	query := dto.IncidentQuery{
		WorkerID:    strings.TrimSpace(c.Query("worker_id")),
		SubtypeName: strings.TrimSpace(c.Query("subtype")),
	}
	if raw := c.Query("state"); raw != "" {
		parts := strings.Split(raw, ",")
		states := make([]models.IncidentState, 0, len(parts))
		for _, part := range parts {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			states = append(states, models.IncidentState(part))
		}
		query.States = states
	}
	query.DeletedOnly, _ = strconv.ParseBool(c.Query("deleted"))
	query.Limit, _ = strconv.Atoi(c.Query("limit"))
	query.Offset, _ = strconv.Atoi(c.Query("offset"))
	return query
}
