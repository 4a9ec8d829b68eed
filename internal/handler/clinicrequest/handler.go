package clinicrequest

import (
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/jwalitptl/clinic-requests/internal/handler"
	"github.com/jwalitptl/clinic-requests/internal/model"
	"github.com/jwalitptl/clinic-requests/internal/service/coordinator"
	"github.com/jwalitptl/clinic-requests/pkg/errors"
)

type Handler struct {
	service *coordinator.Service
}

func NewHandler(service *coordinator.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	requests := r.Group("/requests")
	{
		requests.GET("", h.ListRequests)
		requests.GET("/current", h.CurrentList)
		requests.GET("/stats", h.Stats)
		requests.POST("", h.CreateRequest)
		requests.GET("/:id", h.GetRequest)
		requests.PUT("/:id", h.UpdateRequest)
		requests.DELETE("/:id", h.DeleteRequest)
		requests.GET("/:id/report-url", h.ReportURL)

		requests.POST("/:id/approve", h.Approve)
		requests.POST("/:id/decline", h.Decline)
		requests.POST("/:id/accession", h.AttachAccessionNumber)
		requests.POST("/:id/payment", h.ProcessPayment)
		requests.POST("/:id/report", h.UploadReport)
	}
}

type listParams struct {
	Page  int `form:"page" binding:"omitempty,gte=1"`
	Limit int `form:"limit" binding:"omitempty,gte=1"`
}

func (h *Handler) ListRequests(c *gin.Context) {
	var filter model.RequestFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		handler.BindError(c, err)
		return
	}
	var params listParams
	if err := c.ShouldBindQuery(&params); err != nil {
		handler.BindError(c, err)
		return
	}

	list, err := h.service.ListRequests(c.Request.Context(), handler.SessionFrom(c), model.ListQuery{
		Filter:   filter,
		Page:     params.Page,
		PageSize: params.Limit,
	})
	if err != nil {
		handler.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(list))
}

func (h *Handler) CurrentList(c *gin.Context) {
	snap, err := h.service.CurrentList(handler.SessionFrom(c))
	if err != nil {
		handler.Error(c, err)
		return
	}
	if snap == nil {
		c.JSON(http.StatusOK, handler.NewSuccessResponse(nil))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{
		"query":      snap.Query,
		"result":     snap.Result,
		"fetched_at": snap.FetchedAt,
	}))
}

func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context(), handler.SessionFrom(c))
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(stats))
}

func (h *Handler) GetRequest(c *gin.Context) {
	view, err := h.service.GetRequest(c.Request.Context(), handler.SessionFrom(c), model.ID(c.Param("id")))
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(view))
}

func (h *Handler) ReportURL(c *gin.Context) {
	u, err := h.service.ReportURL(c.Request.Context(), handler.SessionFrom(c), model.ID(c.Param("id")))
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"url": u}))
}

func (h *Handler) CreateRequest(c *gin.Context) {
	in, ok := bindInput(c, true)
	if !ok {
		return
	}

	created, err := h.service.CreateRequest(c.Request.Context(), handler.SessionFrom(c), in)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(created))
}

func (h *Handler) UpdateRequest(c *gin.Context) {
	in, ok := bindInput(c, false)
	if !ok {
		return
	}

	updated, err := h.service.UpdateRequest(c.Request.Context(), handler.SessionFrom(c), model.ID(c.Param("id")), in)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(updated))
}

func (h *Handler) DeleteRequest(c *gin.Context) {
	if err := h.service.DeleteRequest(c.Request.Context(), handler.SessionFrom(c), model.ID(c.Param("id"))); err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(nil))
}

func (h *Handler) Approve(c *gin.Context) {
	if err := h.service.Approve(c.Request.Context(), handler.SessionFrom(c), model.ID(c.Param("id"))); err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"status": model.StatusWaitingForPayment}))
}

func (h *Handler) Decline(c *gin.Context) {
	if err := h.service.Decline(c.Request.Context(), handler.SessionFrom(c), model.ID(c.Param("id"))); err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"status": model.StatusRejected}))
}

type accessionRequest struct {
	AccessionNumber string `json:"accession_number" binding:"required"`
	PatientID       string `json:"patient_id"`
}

func (h *Handler) AttachAccessionNumber(c *gin.Context) {
	var req accessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindError(c, err)
		return
	}

	err := h.service.AttachAccessionNumber(c.Request.Context(), handler.SessionFrom(c),
		model.ID(c.Param("id")), strings.TrimSpace(req.AccessionNumber), req.PatientID)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(nil))
}

type paymentRequest struct {
	PaymentType model.PaymentType `json:"payment_type" binding:"required,payment_type"`
	Price       *float64          `json:"price" binding:"required,gte=0"`
}

func (h *Handler) ProcessPayment(c *gin.Context) {
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindError(c, err)
		return
	}

	outcome, err := h.service.ProcessPayment(c.Request.Context(), handler.SessionFrom(c),
		model.ID(c.Param("id")), req.PaymentType, *req.Price)
	if err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(outcome))
}

type reportRequest struct {
	ReportURL string `json:"report_url" binding:"required"`
}

// UploadReport takes either a multipart "report" file or a JSON report_url.
func (h *Handler) UploadReport(c *gin.Context) {
	sess := handler.SessionFrom(c)
	id := model.ID(c.Param("id"))

	if isMultipart(c) {
		fh, err := c.FormFile("report")
		if err != nil {
			handler.Error(c, errors.Validation("report file is required"))
			return
		}
		upload, err := readUpload(fh)
		if err != nil {
			handler.Error(c, errors.BadRequest("failed to read report file", err))
			return
		}
		if err := h.service.UploadReportFile(c.Request.Context(), sess, id, *upload); err != nil {
			handler.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"status": model.StatusWaitingForResult}))
		return
	}

	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindError(c, err)
		return
	}
	if err := h.service.UploadReport(c.Request.Context(), sess, id, strings.TrimSpace(req.ReportURL)); err != nil {
		handler.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"status": model.StatusWaitingForResult}))
}

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/")
}

// bindInput reads a create or update submission. Multipart bodies carry the
// fields as JSON in "data" and an optional "attachment" file.
func bindInput(c *gin.Context, create bool) (model.RequestInput, bool) {
	var in model.RequestInput

	if isMultipart(c) {
		data := c.PostForm("data")
		if data == "" {
			handler.Error(c, errors.Validation("multipart body needs a data field"))
			return in, false
		}
		if err := json.Unmarshal([]byte(data), &in); err != nil {
			handler.Error(c, errors.BadRequest("data field is not valid JSON", err))
			return in, false
		}
		if fh, err := c.FormFile("attachment"); err == nil {
			upload, err := readUpload(fh)
			if err != nil {
				handler.Error(c, errors.BadRequest("failed to read attachment", err))
				return in, false
			}
			in.Attachment = upload
		}
	} else if err := json.NewDecoder(c.Request.Body).Decode(&in); err != nil {
		handler.Error(c, errors.BadRequest("malformed request body", err))
		return in, false
	}

	if create {
		if err := binding.Validator.ValidateStruct(&in); err != nil {
			handler.BindError(c, err)
			return in, false
		}
	}
	return in, true
}

func readUpload(fh *multipart.FileHeader) (*model.Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return &model.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
