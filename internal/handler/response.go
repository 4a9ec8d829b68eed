package handler

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/clinic-requests/internal/model"
	"github.com/jwalitptl/clinic-requests/internal/session"
	"github.com/jwalitptl/clinic-requests/pkg/errors"
)

// ContextSession is the gin context key holding the *session.Session.
const ContextSession = "session"

type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewErrorResponse(message string) *Response {
	return &Response{
		Status:  "error",
		Message: message,
	}
}

// StatusOf maps an error onto the HTTP status served to the browser.
func StatusOf(err error) int {
	if appErr, ok := errors.As(err); ok {
		return appErr.StatusCode()
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// Error writes the error envelope and records err for the error middleware.
func Error(c *gin.Context, err error) {
	_ = c.Error(err)

	status := StatusOf(err)
	message := "internal server error"
	if appErr, ok := errors.As(err); ok && status != http.StatusInternalServerError {
		message = appErr.Message
	} else if status == http.StatusGatewayTimeout {
		message = "request timed out"
	}
	c.AbortWithStatusJSON(status, NewErrorResponse(message))
}

// SessionFrom returns the session attached by the session middleware.
func SessionFrom(c *gin.Context) *session.Session {
	if v, ok := c.Get(ContextSession); ok {
		if s, ok := v.(*session.Session); ok {
			return s
		}
	}
	return nil
}

// Handshake tells an unauthenticated front-end how to supply its identity.
type Handshake struct {
	MessageEndpoint   string   `json:"message_endpoint"`
	BootstrapEndpoint string   `json:"bootstrap_endpoint"`
	MessageTypes      []string `json:"message_types"`
}

func DefaultHandshake(basePath string) Handshake {
	return Handshake{
		MessageEndpoint:   basePath + "/session/message",
		BootstrapEndpoint: basePath + "/session/bootstrap?userId=&organizationId=",
		MessageTypes:      []string{"idToken"},
	}
}

// AwaitingAuthentication answers requests that need an identity the session
// does not have yet.
func AwaitingAuthentication(c *gin.Context, hs Handshake) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, &Response{
		Status:  "error",
		Message: "awaiting authentication",
		Data: gin.H{
			"state":     model.SessionAwaiting,
			"handshake": hs,
		},
	})
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

var validationMessages = map[string]string{
	"required":       "Field is required",
	"gte":            "Value is too small",
	"payment_type":   "Must be one of cash, online, credit",
	"request_status": "Unknown request status",
}

// BindError answers a failed ShouldBind call.
func BindError(c *gin.Context, err error) {
	var errs validator.ValidationErrors
	if !stderrors.As(err, &errs) {
		Error(c, errors.BadRequest("malformed request body", err))
		return
	}

	_ = c.Error(err).SetType(gin.ErrorTypeBind)
	fields := make([]ValidationError, 0, len(errs))
	for _, e := range errs {
		msg := validationMessages[e.Tag()]
		if msg == "" {
			msg = e.Error()
		}
		fields = append(fields, ValidationError{Field: e.Field(), Message: msg})
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, &Response{
		Status:  "error",
		Message: "validation failed",
		Data:    fields,
	})
}
