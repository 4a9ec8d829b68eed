package audit

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-requests/internal/handler"
	"github.com/jwalitptl/clinic-requests/internal/model"
)

// Reader lists recorded audit entries.
type Reader interface {
	List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditEntry, error)
}

type Handler struct {
	service Reader
}

func NewHandler(service Reader) *Handler {
	return &Handler{
		service: service,
	}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	audit := r.Group("/audit")
	{
		audit.GET("/entries", h.ListEntries)
		audit.GET("/requests/:id", h.GetRequestTrail)
	}
}

type listParams struct {
	RequestID string `form:"request_id"`
	Limit     int    `form:"limit" binding:"omitempty,gte=1,lte=1000"`
}

func (h *Handler) ListEntries(c *gin.Context) {
	var params listParams
	if err := c.ShouldBindQuery(&params); err != nil {
		handler.BindError(c, err)
		return
	}

	entries, err := h.service.List(c.Request.Context(), model.AuditFilter{
		RequestID: params.RequestID,
		Limit:     params.Limit,
	})
	if err != nil {
		handler.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(entries))
}

// GetRequestTrail returns the lifecycle history of one request, newest first.
func (h *Handler) GetRequestTrail(c *gin.Context) {
	entries, err := h.service.List(c.Request.Context(), model.AuditFilter{RequestID: c.Param("id")})
	if err != nil {
		handler.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(entries))
}
