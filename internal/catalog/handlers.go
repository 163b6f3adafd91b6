package catalog

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orgware/orgware/internal/auth"
	apperrors "github.com/orgware/orgware/internal/common/errors"
	"github.com/orgware/orgware/internal/identity"
)

// Handler exposes the feature catalog over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates a catalog handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers catalog endpoints on the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	features := rg.Group("/features")
	{
		features.POST("", h.createFeature)
		features.GET("", h.listFeatures)
		features.GET("/:name", h.getFeature)
		features.PUT("/:name", h.updateFeature)
		features.DELETE("/:name", h.deleteFeature)
	}
}

type featureRequest struct {
	Name         string       `json:"name" binding:"required"`
	DisplayName  string       `json:"display_name" binding:"required"`
	Description  string       `json:"description"`
	RequiredRole string       `json:"required_role" binding:"required"`
	Level        string       `json:"level" binding:"required"`
	Status       string       `json:"status"`
	SubFeatures  []SubFeature `json:"sub_features"`
}

func (r *featureRequest) toFeature() (*Feature, error) {
	role, err := auth.ParseRole(r.RequiredRole)
	if err != nil {
		return nil, err
	}
	level, err := ParseFeatureLevel(r.Level)
	if err != nil {
		return nil, err
	}
	return &Feature{
		Name:         r.Name,
		DisplayName:  r.DisplayName,
		Description:  r.Description,
		RequiredRole: role,
		Level:        level,
		Status:       FeatureStatus(r.Status),
		SubFeatures:  r.SubFeatures,
	}, nil
}

func (h *Handler) createFeature(c *gin.Context) {
	actor := identity.PrincipalFromContext(c)

	var req featureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleError(c, apperrors.BadRequest("invalid request body"))
		return
	}

	feature, err := req.toFeature()
	if err != nil {
		apperrors.HandleError(c, apperrors.ValidationError(err.Error()))
		return
	}

	if err := h.service.CreateFeature(c.Request.Context(), actor, feature); err != nil {
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, feature)
}

func (h *Handler) listFeatures(c *gin.Context) {
	level := c.Query("level")
	if level != "" && !IsValidFeatureLevel(level) {
		apperrors.HandleError(c, apperrors.BadRequest("invalid feature level"))
		return
	}

	features, err := h.service.ListFeatures(c.Request.Context(), FeatureLevel(level))
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"features": features})
}

func (h *Handler) getFeature(c *gin.Context) {
	feature, err := h.service.GetFeatureByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		if errors.Is(err, ErrFeatureNotFound) {
			apperrors.HandleError(c, apperrors.NotFound("feature"))
			return
		}
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, feature)
}

func (h *Handler) updateFeature(c *gin.Context) {
	actor := identity.PrincipalFromContext(c)

	var req featureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleError(c, apperrors.BadRequest("invalid request body"))
		return
	}
	req.Name = c.Param("name")

	feature, err := req.toFeature()
	if err != nil {
		apperrors.HandleError(c, apperrors.ValidationError(err.Error()))
		return
	}

	if err := h.service.UpdateFeature(c.Request.Context(), actor, feature); err != nil {
		if errors.Is(err, ErrFeatureNotFound) {
			apperrors.HandleError(c, apperrors.NotFound("feature"))
			return
		}
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, feature)
}

func (h *Handler) deleteFeature(c *gin.Context) {
	actor := identity.PrincipalFromContext(c)

	if err := h.service.DeleteFeature(c.Request.Context(), actor, c.Param("name")); err != nil {
		if errors.Is(err, ErrFeatureNotFound) {
			apperrors.HandleError(c, apperrors.NotFound("feature"))
			return
		}
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "feature deleted"})
}
