package audit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/orgware/orgware/internal/common/errors"
)

// Handler exposes audit trail search. Routes should be mounted behind
// an admin role guard.
type Handler struct {
	service *Service
}

// NewHandler creates an audit handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the audit search endpoint.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/audit/events", h.search)
}

func (h *Handler) search(c *gin.Context) {
	query := SearchQuery{
		Action:  c.Query("action"),
		ActorID: c.Query("actor_id"),
		Outcome: c.Query("outcome"),
	}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			apperrors.HandleError(c, apperrors.BadRequest("invalid from timestamp"))
			return
		}
		query.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			apperrors.HandleError(c, apperrors.BadRequest("invalid to timestamp"))
			return
		}
		query.To = t
	}
	if v := c.Query("limit"); v != "" {
		query.Limit, _ = strconv.Atoi(v)
	}

	events, err := h.service.Search(c.Request.Context(), query)
	if err != nil {
		apperrors.HandleError(c, apperrors.Internal("audit search failed", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}
