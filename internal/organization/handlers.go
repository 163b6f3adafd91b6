package organization

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/orgware/orgware/internal/auth"
	apperrors "github.com/orgware/orgware/internal/common/errors"
	"github.com/orgware/orgware/internal/identity"
)

// Handler exposes organization management over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates an organization handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers organization endpoints on the router group.
// The group is expected to carry authentication middleware already.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	orgs := rg.Group("/organizations")
	{
		orgs.POST("", h.createOrganization)
		orgs.GET("", h.listOrganizations)
		orgs.GET("/:id", h.getOrganization)
		orgs.PUT("/:id", h.updateOrganization)
		orgs.PUT("/:id/features", h.setFeatureToggle)
	}
}

type createOrganizationRequest struct {
	Name        string `json:"name" binding:"required"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
}

func (h *Handler) createOrganization(c *gin.Context) {
	actor := identity.PrincipalFromContext(c)

	var req createOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleError(c, apperrors.BadRequest("invalid request body"))
		return
	}

	org := &Organization{
		Name:        req.Name,
		Slug:        req.Slug,
		Description: req.Description,
	}

	if err := h.service.CreateOrganization(c.Request.Context(), actor, org); err != nil {
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, org)
}

func (h *Handler) listOrganizations(c *gin.Context) {
	actor := identity.PrincipalFromContext(c)
	if actor == nil || !actor.Role.IsAtLeast(auth.RoleAdmin) {
		apperrors.HandleError(c, apperrors.InsufficientRole("only administrators can list organizations"))
		return
	}

	limit, offset := pagination(c)
	orgs, total, err := h.service.ListOrganizations(c.Request.Context(), limit, offset)
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"organizations": orgs,
		"total":         total,
		"limit":         limit,
		"offset":        offset,
	})
}

func (h *Handler) getOrganization(c *gin.Context) {
	actor := identity.PrincipalFromContext(c)
	orgID := c.Param("id")

	// Non-platform users may only read their own organization.
	if actor == nil || (!actor.Role.IsAtLeast(auth.RoleAdmin) && !actor.InOrganization(orgID)) {
		apperrors.HandleError(c, apperrors.Forbidden("cannot access this organization"))
		return
	}

	org, err := h.service.GetOrganization(c.Request.Context(), orgID)
	if err != nil {
		if errors.Is(err, ErrOrganizationNotFound) {
			apperrors.HandleError(c, apperrors.NotFound("organization"))
			return
		}
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, org)
}

type updateOrganizationRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	IsActive    *bool  `json:"is_active"`
}

func (h *Handler) updateOrganization(c *gin.Context) {
	actor := identity.PrincipalFromContext(c)
	orgID := c.Param("id")

	var req updateOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleError(c, apperrors.BadRequest("invalid request body"))
		return
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	err := h.service.UpdateOrganization(c.Request.Context(), actor, orgID, req.Name, req.Description, isActive)
	if err != nil {
		if errors.Is(err, ErrOrganizationNotFound) {
			apperrors.HandleError(c, apperrors.NotFound("organization"))
			return
		}
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "organization updated"})
}

type featureToggleRequest struct {
	Feature    string `json:"feature" binding:"required"`
	SubFeature string `json:"sub_feature"`
	Enabled    bool   `json:"enabled"`
}

func (h *Handler) setFeatureToggle(c *gin.Context) {
	actor := identity.PrincipalFromContext(c)
	orgID := c.Param("id")

	var req featureToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleError(c, apperrors.BadRequest("invalid request body"))
		return
	}

	err := h.service.SetFeatureToggle(c.Request.Context(), actor, orgID, req.Feature, req.SubFeature, req.Enabled)
	if err != nil {
		if errors.Is(err, ErrOrganizationNotFound) {
			apperrors.HandleError(c, apperrors.NotFound("organization"))
			return
		}
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "feature toggle updated"})
}

func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
