// Package api exposes the publish and diagnostic operations over HTTP.
package api

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mqdiag/internal/connection"
	"mqdiag/internal/constants"
	"mqdiag/internal/diagnostics"
	"mqdiag/internal/filtering"
	"mqdiag/internal/logger"
	"mqdiag/pkg/errors"
	"mqdiag/pkg/jsoncodec"
	"mqdiag/pkg/models"
)

type Publisher interface {
	Publish(ctx context.Context, destination string, rawEvent interface{}) (models.PublishRecord, error)
	PublishRaw(ctx context.Context, destination, text string) (models.PublishRecord, error)
}

type Prober interface {
	Probe(ctx context.Context, candidates []string) []string
}

type Verifier interface {
	Check(ctx context.Context, destination string, timeout time.Duration) diagnostics.VerifyResult
}

type ConnectionStatus interface {
	Status() connection.Status
}

// RuleService is the optional filter rule store behind /filter endpoints.
type RuleService interface {
	Rules() []filtering.Rule
	ReloadRules(ctx context.Context) error
}

type Dependencies struct {
	Publisher         Publisher
	Prober            Prober
	Verifier          Verifier
	Connection        ConnectionStatus
	Rules             RuleService
	DefaultCandidates []string
	DefaultTimeout    time.Duration
}

type BaseHandler struct {
	Logger logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	status := errors.ToHTTPStatus(err)
	response := errors.ToErrorResponse(err)

	c.JSON(status, response)
}

type Handler struct {
	BaseHandler
	deps Dependencies
}

func NewHandler(deps Dependencies, log logger.Logger) *Handler {
	return &Handler{
		BaseHandler: BaseHandler{Logger: log},
		deps:        deps,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/publish", h.Publish)
		v1.POST("/publish/raw", h.PublishRaw)
		v1.POST("/probe", h.Probe)
		v1.POST("/verify", h.Verify)
		v1.GET("/connection", h.Connection)

		if h.deps.Rules != nil {
			rules := v1.Group("/filter/rules")
			{
				rules.GET("", h.ListRules)
				rules.POST("/reload", h.ReloadRules)
			}
		}
	}
}

type PublishRequest struct {
	Destination string      `json:"destination"`
	Event       interface{} `json:"event"`
}

type PublishRawRequest struct {
	Destination string `json:"destination"`
	Body        string `json:"body"`
}

type ProbeRequest struct {
	Candidates []string `json:"candidates"`
}

type ProbeResponse struct {
	Accessible []string `json:"accessible"`
}

type VerifyRequest struct {
	Destination string `json:"destination"`
	TimeoutMs   int64  `json:"timeout_ms"`
}

// decode reads the body with number preservation so large integers in events
// reach the pipeline intact.
func decode(c *gin.Context, v interface{}) error {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, constants.MaxRequestBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			appErr := errors.ErrValidation.
				WithMessage("request body too large").
				WithDetail("limit_bytes", tooLarge.Limit)
			appErr.Status = http.StatusRequestEntityTooLarge
			return appErr
		}
		return errors.ErrValidation.WithMessage("failed to read request body").WithCause(err)
	}
	if err := jsoncodec.UnmarshalNumber(body, v); err != nil {
		return errors.ErrValidation.WithMessage("invalid JSON body").WithCause(err)
	}
	return nil
}

func requireDestination(destination string) error {
	if destination == "" {
		return errors.ErrValidation.WithMessage("destination is required").WithDetail("field", "destination")
	}
	return nil
}

// Publish godoc
// @Summary      Publish an event
// @Description  Normalizes, filters and serializes the event, then sends it to the destination
// @Tags         publish
// @Accept       json
// @Produce      json
// @Param        request  body      PublishRequest  true  "Destination and event"
// @Success      200      {object}  models.PublishRecord
// @Failure      400      {object}  map[string]interface{}
// @Failure      502      {object}  map[string]interface{}
// @Router       /publish [post]
func (h *Handler) Publish(c *gin.Context) {
	var req PublishRequest
	if err := decode(c, &req); err != nil {
		h.HandleError(c, err)
		return
	}
	if err := requireDestination(req.Destination); err != nil {
		h.HandleError(c, err)
		return
	}

	record, err := h.deps.Publisher.Publish(c.Request.Context(), req.Destination, req.Event)
	h.respondRecord(c, record, err)
}

// PublishRaw godoc
// @Summary      Publish raw text
// @Description  Sends the body as is, without normalization or filtering
// @Tags         publish
// @Accept       json
// @Produce      json
// @Param        request  body      PublishRawRequest  true  "Destination and body"
// @Success      200      {object}  models.PublishRecord
// @Failure      400      {object}  map[string]interface{}
// @Router       /publish/raw [post]
func (h *Handler) PublishRaw(c *gin.Context) {
	var req PublishRawRequest
	if err := decode(c, &req); err != nil {
		h.HandleError(c, err)
		return
	}
	if err := requireDestination(req.Destination); err != nil {
		h.HandleError(c, err)
		return
	}

	record, err := h.deps.Publisher.PublishRaw(c.Request.Context(), req.Destination, req.Body)
	h.respondRecord(c, record, err)
}

func (h *Handler) respondRecord(c *gin.Context, record models.PublishRecord, err error) {
	if err != nil {
		h.Logger.ErrorwCtx(c.Request.Context(), "Publish request failed", "error", err)
		response := errors.ToErrorResponse(err)
		response["record"] = record
		c.JSON(errors.ToHTTPStatus(err), response)
		return
	}
	c.JSON(http.StatusOK, record)
}

// Probe godoc
// @Summary      Probe destinations
// @Description  Trial-opens a receiver per candidate and lists the ones that attached in time
// @Tags         diagnostics
// @Accept       json
// @Produce      json
// @Param        request  body      ProbeRequest  false  "Candidates, defaults to the configured list"
// @Success      200      {object}  ProbeResponse
// @Router       /probe [post]
func (h *Handler) Probe(c *gin.Context) {
	var req ProbeRequest
	if c.Request.ContentLength != 0 {
		if err := decode(c, &req); err != nil {
			h.HandleError(c, err)
			return
		}
	}
	candidates := req.Candidates
	if len(candidates) == 0 {
		candidates = h.deps.DefaultCandidates
	}

	accessible := h.deps.Prober.Probe(c.Request.Context(), candidates)
	c.JSON(http.StatusOK, ProbeResponse{Accessible: accessible})
}

// Verify godoc
// @Summary      Verify delivery
// @Description  Waits for one message on the destination, up to timeout_ms
// @Tags         diagnostics
// @Accept       json
// @Produce      json
// @Param        request  body      VerifyRequest  true  "Destination and timeout"
// @Success      200      {object}  diagnostics.VerifyResult
// @Failure      400      {object}  map[string]interface{}
// @Router       /verify [post]
func (h *Handler) Verify(c *gin.Context) {
	var req VerifyRequest
	if err := decode(c, &req); err != nil {
		h.HandleError(c, err)
		return
	}
	if err := requireDestination(req.Destination); err != nil {
		h.HandleError(c, err)
		return
	}
	if req.TimeoutMs < 0 {
		h.HandleError(c, errors.ErrValidation.WithMessage("timeout_ms must not be negative").WithDetail("field", "timeout_ms"))
		return
	}

	timeout := h.deps.DefaultTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	c.JSON(http.StatusOK, h.deps.Verifier.Check(c.Request.Context(), req.Destination, timeout))
}

// Connection godoc
// @Summary      Connection status
// @Tags         diagnostics
// @Produce      json
// @Success      200  {object}  connection.Status
// @Router       /connection [get]
func (h *Handler) Connection(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Connection.Status())
}

// ListRules godoc
// @Summary      List active filter rules
// @Tags         filter
// @Produce      json
// @Success      200  {array}  filtering.Rule
// @Router       /filter/rules [get]
func (h *Handler) ListRules(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Rules.Rules())
}

// ReloadRules godoc
// @Summary      Reload filter rules from their source
// @Tags         filter
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      500  {object}  map[string]interface{}
// @Router       /filter/rules/reload [post]
func (h *Handler) ReloadRules(c *gin.Context) {
	if err := h.deps.Rules.ReloadRules(c.Request.Context()); err != nil {
		h.HandleError(c, errors.ErrFilter.WithMessage(err.Error()).WithCause(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": len(h.deps.Rules.Rules())})
}
