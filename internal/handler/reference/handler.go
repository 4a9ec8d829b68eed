package reference

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-requests/internal/handler"
	"github.com/jwalitptl/clinic-requests/internal/model"
)

// Catalog serves the federation reference data.
type Catalog interface {
	Organizations(ctx context.Context) ([]model.Organization, error)
	ModalityRequestTypes(ctx context.Context) ([]model.ModalityRequestType, error)
}

type Handler struct {
	catalog Catalog
}

func NewHandler(catalog Catalog) *Handler {
	return &Handler{catalog: catalog}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	ref := r.Group("/reference")
	{
		ref.GET("/organizations", h.ListOrganizations)
		ref.GET("/modality-request-types", h.ListModalityRequestTypes)
	}
}

// ListOrganizations returns the federation organizations. With
// ?exclude_self=true the session organization is left out, which is what the
// receiver picker of the create form needs.
func (h *Handler) ListOrganizations(c *gin.Context) {
	orgs, err := h.catalog.Organizations(c.Request.Context())
	if err != nil {
		handler.Error(c, err)
		return
	}

	if c.Query("exclude_self") == "true" {
		if sess := handler.SessionFrom(c); sess != nil {
			if id, ok := sess.Identity(); ok {
				filtered := orgs[:0:0]
				for _, o := range orgs {
					if o.ID != id.OrganizationID {
						filtered = append(filtered, o)
					}
				}
				orgs = filtered
			}
		}
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(orgs))
}

func (h *Handler) ListModalityRequestTypes(c *gin.Context) {
	types, err := h.catalog.ModalityRequestTypes(c.Request.Context())
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(types))
}
