package patient

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-requests/internal/handler"
	"github.com/jwalitptl/clinic-requests/internal/model"
	"github.com/jwalitptl/clinic-requests/internal/service/coordinator"
)

type Handler struct {
	service *coordinator.Service
}

func NewHandler(service *coordinator.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	patients := r.Group("/patients")
	{
		patients.GET("/check/:nationalityId", h.CheckPatient)
	}
}

// CheckPatient looks a patient up by nationality id within a clinic, so the
// create form can prefill known patients.
func (h *Handler) CheckPatient(c *gin.Context) {
	check, err := h.service.CheckPatient(c.Request.Context(), handler.SessionFrom(c),
		c.Param("nationalityId"), model.ID(c.Query("clinic_id")))
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(check))
}
