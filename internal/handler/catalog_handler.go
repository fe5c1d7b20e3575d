package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/hr-incidents-api/internal/dto"
	"github.com/noah-isme/hr-incidents-api/internal/models"
	appErrors "github.com/noah-isme/hr-incidents-api/pkg/errors"
	"github.com/noah-isme/hr-incidents-api/pkg/response"
)

type catalogService interface {
	List(ctx context.Context) ([]models.CatalogEntry, error)
	GetBySubtype(ctx context.Context, subtypeName string) (*models.CatalogEntry, error)
	Create(ctx context.Context, req dto.CreateCatalogEntryRequest, actorID string) (*models.CatalogEntry, error)
	Update(ctx context.Context, subtypeName string, req dto.UpdateCatalogEntryRequest, actorID string) (*models.CatalogEntry, error)
	Delete(ctx context.Context, subtypeName, actorID string) error
}

// CatalogHandler manages the incident subtype catalog.
type CatalogHandler struct {
	service catalogService
}

// NewCatalogHandler constructs the handler.
func NewCatalogHandler(svc catalogService) *CatalogHandler {
	return &CatalogHandler{service: svc}
}

// List godoc
// @Summary List catalog entries
// @Tags Catalog
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /catalog [get]
func (h *CatalogHandler) List(c *gin.Context) {
	entries, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// Get godoc
// @Summary Get a catalog entry by subtype name
// @Tags Catalog
// @Produce json
// @Param subtype path string true "Subtype name"
// @Success 200 {object} response.Envelope
// @Router /catalog/{subtype} [get]
func (h *CatalogHandler) Get(c *gin.Context) {
	entry, err := h.service.GetBySubtype(c.Request.Context(), c.Param("subtype"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}

// Create godoc
// @Summary Create a catalog entry
// @Tags Catalog
// @Accept json
// @Produce json
// @Param payload body dto.CreateCatalogEntryRequest true "Catalog entry"
// @Success 201 {object} response.Envelope
// @Router /catalog [post]
func (h *CatalogHandler) Create(c *gin.Context) {
	var req dto.CreateCatalogEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid catalog payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	entry, err := h.service.Create(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, entry, nil)
}

// Update godoc
// @Summary Update a catalog entry
// @Tags Catalog
// @Accept json
// @Produce json
// @Param subtype path string true "Subtype name"
// @Param payload body dto.UpdateCatalogEntryRequest true "Mutable fields"
// @Success 200 {object} response.Envelope
// @Router /catalog/{subtype} [put]
func (h *CatalogHandler) Update(c *gin.Context) {
	var req dto.UpdateCatalogEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid catalog payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	entry, err := h.service.Update(c.Request.Context(), c.Param("subtype"), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}

// Delete godoc
// @Summary Delete a catalog entry
// @Tags Catalog
// @Produce json
// @Param subtype path string true "Subtype name"
// @Success 204
// @Router /catalog/{subtype} [delete]
func (h *CatalogHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.Delete(c.Request.Context(), c.Param("subtype"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
