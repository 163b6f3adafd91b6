package invitation

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/orgware/orgware/internal/auth"
	apperrors "github.com/orgware/orgware/internal/common/errors"
	"github.com/orgware/orgware/internal/identity"
)

// Handler exposes the invitation workflow over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates an invitation handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterPublicRoutes registers the unauthenticated redemption endpoint.
func (h *Handler) RegisterPublicRoutes(rg *gin.RouterGroup) {
	rg.POST("/invitations/redeem", h.redeem)
}

// RegisterRoutes registers the authenticated management endpoints.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	invitations := rg.Group("/invitations")
	{
		invitations.POST("", h.create)
		invitations.GET("", h.list)
		invitations.POST("/:id/resend", h.resend)
		invitations.DELETE("/:id", h.revoke)
	}
}

type permissionGrantRequest struct {
	Feature     string   `json:"feature" binding:"required"`
	SubFeatures []string `json:"sub_features"`
	Actions     []string `json:"actions" binding:"required"`
}

type createRequest struct {
	Email          string                   `json:"email" binding:"required,email"`
	Role           string                   `json:"role" binding:"required"`
	OrganizationID *string                  `json:"organization_id"`
	Permissions    []permissionGrantRequest `json:"permissions"`
}

func (h *Handler) create(c *gin.Context) {
	inviter := identity.PrincipalFromContext(c)

	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleError(c, apperrors.BadRequest("invalid request body"))
		return
	}

	role, err := auth.ParseRole(req.Role)
	if err != nil {
		apperrors.HandleError(c, apperrors.ValidationError(err.Error()))
		return
	}

	grants := make([]auth.PermissionGrant, 0, len(req.Permissions))
	for _, g := range req.Permissions {
		actions := make([]auth.Action, 0, len(g.Actions))
		for _, a := range g.Actions {
			actions = append(actions, auth.Action(a))
		}
		grants = append(grants, auth.PermissionGrant{
			Feature:     g.Feature,
			SubFeatures: g.SubFeatures,
			Actions:     actions,
		})
	}

	inv, link, err := h.service.Create(c.Request.Context(), inviter, CreateParams{
		Email:          req.Email,
		Role:           role,
		OrganizationID: req.OrganizationID,
		Permissions:    grants,
	})
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"invitation":  inv,
		"invite_link": link,
	})
}

type redeemRequest struct {
	Token     string `json:"token" binding:"required"`
	Password  string `json:"password" binding:"required"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (h *Handler) redeem(c *gin.Context) {
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleError(c, apperrors.BadRequest("invalid request body"))
		return
	}

	user, err := h.service.Redeem(c.Request.Context(), RedeemParams{
		Token:     req.Token,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, user)
}

func (h *Handler) list(c *gin.Context) {
	actor := identity.PrincipalFromContext(c)

	var orgID *string
	if v := c.Query("organization_id"); v != "" {
		orgID = &v
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	invitations, total, err := h.service.List(c.Request.Context(), actor, orgID, limit, offset)
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"invitations": invitations,
		"total":       total,
		"limit":       limit,
		"offset":      offset,
	})
}

func (h *Handler) resend(c *gin.Context) {
	actor := identity.PrincipalFromContext(c)

	inv, err := h.service.Resend(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, inv)
}

func (h *Handler) revoke(c *gin.Context) {
	actor := identity.PrincipalFromContext(c)

	if err := h.service.Revoke(c.Request.Context(), actor, c.Param("id")); err != nil {
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "invitation revoked"})
}
