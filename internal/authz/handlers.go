package authz

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orgware/orgware/internal/auth"
	apperrors "github.com/orgware/orgware/internal/common/errors"
	"github.com/orgware/orgware/internal/identity"
)

// Handler exposes the decision engine for explicit checks, letting UIs
// probe what the current principal may do.
type Handler struct {
	engine *Engine
}

// NewHandler creates an authz handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes registers the decision endpoint on the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/authz/check", h.check)
}

type checkRequest struct {
	Feature    string `json:"feature" binding:"required"`
	Action     string `json:"action" binding:"required"`
	SubFeature string `json:"sub_feature"`
}

func (h *Handler) check(c *gin.Context) {
	principal := identity.PrincipalFromContext(c)

	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleError(c, apperrors.BadRequest("invalid request body"))
		return
	}

	action, err := auth.ParseAction(req.Action)
	if err != nil {
		apperrors.HandleError(c, apperrors.ValidationError(err.Error()))
		return
	}

	decision, err := h.engine.Authorize(c.Request.Context(), principal, req.Feature, action, req.SubFeature)
	if err != nil {
		apperrors.HandleError(c, apperrors.Internal("authorization check failed", err))
		return
	}

	// A denial is a successful check, not a transport error.
	c.JSON(http.StatusOK, decision)
}
