package auth

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/clinic-requests/internal/handler"
	"github.com/jwalitptl/clinic-requests/internal/model"
	"github.com/jwalitptl/clinic-requests/internal/session"
	"github.com/jwalitptl/clinic-requests/pkg/errors"
)

const maxMessageBytes = 64 << 10

// Directory serves the federation profile lookups.
type Directory interface {
	UserDetails(ctx context.Context, userID model.ID) (*model.UserDetails, error)
	OrganizationDetails(ctx context.Context, orgID model.ID) (*model.OrganizationDetails, error)
}

type Handler struct {
	decoder   *session.TokenDecoder
	directory Directory
	handshake handler.Handshake
}

func NewHandler(decoder *session.TokenDecoder, directory Directory, handshake handler.Handshake) *Handler {
	return &Handler{
		decoder:   decoder,
		directory: directory,
		handshake: handshake,
	}
}

// RegisterRoutes mounts the session routes. requireIdentity guards the
// routes that need a resolved identity.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, requireIdentity gin.HandlerFunc) {
	s := r.Group("/session")
	{
		s.GET("", h.GetSession)
		s.POST("/bootstrap", h.Bootstrap)
		s.POST("/message", h.HostMessage)
		s.GET("/profile", requireIdentity, h.GetProfile)
		s.DELETE("", h.ClearSession)
	}
}

type sessionResponse struct {
	SessionID string               `json:"session_id"`
	State     model.SessionState   `json:"state"`
	Identity  *model.Identity      `json:"identity,omitempty"`
	Source    model.IdentitySource `json:"source,omitempty"`
	Storage   model.StorageStatus  `json:"storage"`
	Handshake *handler.Handshake   `json:"handshake,omitempty"`
	Accepted  *bool                `json:"accepted,omitempty"`
}

func (h *Handler) describe(c *gin.Context, sess *session.Session) sessionResponse {
	resp := sessionResponse{
		SessionID: sess.ID,
		State:     model.SessionAwaiting,
		Storage:   sess.Status(c.Request.Context(), c.GetHeader("Sec-Fetch-Dest") == "iframe"),
	}
	if id, ok := sess.Identity(); ok {
		resp.State = model.SessionResolved
		resp.Identity = &id
		resp.Source = sess.Source()
	} else {
		hs := h.handshake
		resp.Handshake = &hs
	}
	return resp
}

func (h *Handler) GetSession(c *gin.Context) {
	sess := handler.SessionFrom(c)
	c.JSON(http.StatusOK, handler.NewSuccessResponse(h.describe(c, sess)))
}

// Bootstrap offers the identity carried in the page URL.
func (h *Handler) Bootstrap(c *gin.Context) {
	sess := handler.SessionFrom(c)
	id := model.Identity{
		UserID:         model.ID(c.Query("userId")),
		OrganizationID: model.ID(c.Query("organizationId")),
	}
	if id.UserID.IsZero() && id.OrganizationID.IsZero() {
		handler.Error(c, errors.Validation("userId and organizationId query parameters are required"))
		return
	}

	accepted := sess.Offer(c.Request.Context(), model.Candidate{Identity: id, Source: model.SourceURL})
	resp := h.describe(c, sess)
	resp.Accepted = &accepted
	c.JSON(http.StatusOK, handler.NewSuccessResponse(resp))
}

// HostMessage offers the identity posted by the hosting page.
func (h *Handler) HostMessage(c *gin.Context) {
	sess := handler.SessionFrom(c)
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxMessageBytes))
	if err != nil {
		handler.Error(c, errors.BadRequest("failed to read host message", err))
		return
	}

	id, err := h.decoder.ParseHostMessage(body)
	if err != nil {
		handler.Error(c, err)
		return
	}

	accepted := sess.Offer(c.Request.Context(), model.Candidate{Identity: id, Source: model.SourceMessage})
	resp := h.describe(c, sess)
	resp.Accepted = &accepted
	c.JSON(http.StatusOK, handler.NewSuccessResponse(resp))
}

func (h *Handler) GetProfile(c *gin.Context) {
	sess := handler.SessionFrom(c)
	id, _ := sess.Identity()

	var profile model.Profile
	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() error {
		u, err := h.directory.UserDetails(ctx, id.UserID)
		profile.User = u
		return err
	})
	g.Go(func() error {
		o, err := h.directory.OrganizationDetails(ctx, id.OrganizationID)
		profile.Organization = o
		return err
	})
	if err := g.Wait(); err != nil {
		handler.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(profile))
}

// ClearSession forgets the persisted identity and cached user details.
func (h *Handler) ClearSession(c *gin.Context) {
	sess := handler.SessionFrom(c)
	sess.Clear(c.Request.Context())
	c.JSON(http.StatusOK, handler.NewSuccessResponse(h.describe(c, sess)))
}
