package identity

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/orgware/orgware/internal/auth"
	apperrors "github.com/orgware/orgware/internal/common/errors"
)

// Handler exposes session and user management over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates an identity handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterPublicRoutes registers the unauthenticated session endpoints.
func (h *Handler) RegisterPublicRoutes(rg *gin.RouterGroup) {
	sessions := rg.Group("/auth")
	{
		sessions.POST("/login", h.login)
		sessions.POST("/refresh", h.refresh)
	}
}

// RegisterRoutes registers the authenticated user management endpoints.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/auth/logout", h.logout)

	users := rg.Group("/users")
	{
		users.POST("", h.createUser)
		users.GET("", h.listUsers)
		users.GET("/me", h.currentUser)
		users.PUT("/me/password", h.changePassword)
		users.GET("/:id", h.getUser)
		users.PUT("/:id", h.updateProfile)
		users.PUT("/:id/permissions", h.replacePermissions)
	}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleError(c, apperrors.BadRequest("invalid request body"))
		return
	}

	user, tokens, err := h.service.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":   user,
		"tokens": tokens,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (h *Handler) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleError(c, apperrors.BadRequest("invalid request body"))
		return
	}

	access, err := h.service.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"access_token": access})
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) logout(c *gin.Context) {
	var req logoutRequest
	_ = c.ShouldBindJSON(&req)

	accessToken := bearerToken(c)
	if err := h.service.Logout(c.Request.Context(), accessToken, req.RefreshToken); err != nil {
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

type permissionGrantRequest struct {
	Feature     string   `json:"feature" binding:"required"`
	SubFeatures []string `json:"sub_features"`
	Actions     []string `json:"actions" binding:"required"`
}

func toGrants(reqs []permissionGrantRequest) []auth.PermissionGrant {
	grants := make([]auth.PermissionGrant, 0, len(reqs))
	for _, r := range reqs {
		actions := make([]auth.Action, 0, len(r.Actions))
		for _, a := range r.Actions {
			actions = append(actions, auth.Action(a))
		}
		grants = append(grants, auth.PermissionGrant{
			Feature:     r.Feature,
			SubFeatures: r.SubFeatures,
			Actions:     actions,
		})
	}
	return grants
}

type createUserRequest struct {
	Email          string                   `json:"email" binding:"required,email"`
	FirstName      string                   `json:"first_name"`
	LastName       string                   `json:"last_name"`
	Password       string                   `json:"password" binding:"required"`
	Role           string                   `json:"role" binding:"required"`
	OrganizationID *string                  `json:"organization_id"`
	Permissions    []permissionGrantRequest `json:"permissions"`
}

func (h *Handler) createUser(c *gin.Context) {
	actor := PrincipalFromContext(c)

	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleError(c, apperrors.BadRequest("invalid request body"))
		return
	}

	role, err := auth.ParseRole(req.Role)
	if err != nil {
		apperrors.HandleError(c, apperrors.ValidationError(err.Error()))
		return
	}

	user, err := h.service.CreateUser(c.Request.Context(), actor, CreateUserParams{
		Email:          req.Email,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Password:       req.Password,
		Role:           role,
		OrganizationID: req.OrganizationID,
		Permissions:    toGrants(req.Permissions),
	})
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, user)
}

func (h *Handler) listUsers(c *gin.Context) {
	actor := PrincipalFromContext(c)

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

	users, total, err := h.service.ListUsers(c.Request.Context(), actor, orgID, limit, offset)
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"users":  users,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *Handler) currentUser(c *gin.Context) {
	actor := PrincipalFromContext(c)
	if actor == nil {
		apperrors.HandleError(c, apperrors.Unauthorized("authentication required"))
		return
	}
	c.JSON(http.StatusOK, actor)
}

func (h *Handler) getUser(c *gin.Context) {
	actor := PrincipalFromContext(c)

	user, err := h.service.GetUser(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, user)
}

type updateProfileRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	IsActive  *bool  `json:"is_active"`
}

func (h *Handler) updateProfile(c *gin.Context) {
	actor := PrincipalFromContext(c)

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleError(c, apperrors.BadRequest("invalid request body"))
		return
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	err := h.service.UpdateProfile(c.Request.Context(), actor, c.Param("id"), req.FirstName, req.LastName, isActive)
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "profile updated"})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

func (h *Handler) changePassword(c *gin.Context) {
	actor := PrincipalFromContext(c)

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleError(c, apperrors.BadRequest("invalid request body"))
		return
	}

	if err := h.service.ChangePassword(c.Request.Context(), actor, req.CurrentPassword, req.NewPassword); err != nil {
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "password changed"})
}

type replacePermissionsRequest struct {
	Permissions []permissionGrantRequest `json:"permissions"`
}

func (h *Handler) replacePermissions(c *gin.Context) {
	actor := PrincipalFromContext(c)

	var req replacePermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleError(c, apperrors.BadRequest("invalid request body"))
		return
	}

	err := h.service.ReplacePermissions(c.Request.Context(), actor, c.Param("id"), toGrants(req.Permissions))
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "permissions replaced"})
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
