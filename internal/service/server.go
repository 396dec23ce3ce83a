// Package service exposes the conversion engine over HTTP. The surface is
// deliberately small: one endpoint per conversion direction plus health
// and discovery.
package service

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/dotimplement/healthchain-go/internal/interop"
	"github.com/dotimplement/healthchain-go/internal/interop/model"
)

// Handler serves the conversion endpoints.
type Handler struct {
	engine *interop.Engine
	log    zerolog.Logger
}

// NewHandler creates a handler around a wired engine.
func NewHandler(engine *interop.Engine, log zerolog.Logger) *Handler {
	return &Handler{engine: engine, log: log}
}

// NewServer builds the echo instance with middleware and routes.
func NewServer(h *Handler, log zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(Recovery(log))
	e.Use(RequestID())
	e.Use(Logger(log))

	h.RegisterRoutes(e)
	return e
}

// RegisterRoutes attaches the handler's routes.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.health)
	e.GET("/interop/documents", h.listDocuments)
	e.POST("/interop/to-fhir", h.toFHIR)
	e.POST("/interop/from-fhir", h.fromFHIR)
}

func (h *Handler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": "0.1.0",
	})
}

func (h *Handler) listDocuments(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"documents": h.engine.Store().Documents(),
	})
}

// toFHIR converts a raw source document (request body) into canonical
// resources. The source format comes from the format query parameter.
func (h *Handler) toFHIR(c echo.Context) error {
	format := c.QueryParam("format")
	if format == "" {
		return c.JSON(http.StatusBadRequest, errorBody("format query parameter is required"))
	}

	raw, err := readBody(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("cannot read request body"))
	}

	resources, err := h.engine.ToCanonical(raw, interop.Format(format))
	if err != nil {
		return h.conversionError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"resources": resources,
	})
}

type fromFHIRRequest struct {
	Resources []model.Resource `json:"resources"`
}

// fromFHIR renders canonical resources (request body) into a document of
// the named definition. Format and document come from query parameters.
func (h *Handler) fromFHIR(c echo.Context) error {
	format := c.QueryParam("format")
	document := c.QueryParam("document")
	if format == "" || document == "" {
		return c.JSON(http.StatusBadRequest, errorBody("format and document query parameters are required"))
	}

	var req fromFHIRRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("malformed request body"))
	}

	out, err := h.engine.FromCanonical(req.Resources, interop.Format(format), document)
	if err != nil {
		return h.conversionError(c, err)
	}

	contentType := "text/plain; charset=utf-8"
	if format == "cda" {
		contentType = "application/xml; charset=utf-8"
	}
	return c.Blob(http.StatusOK, contentType, []byte(out))
}

// conversionError maps the engine's error taxonomy onto HTTP statuses:
// bad input data is the caller's fault, broken definitions are ours.
func (h *Handler) conversionError(c echo.Context, err error) error {
	var parseErr *interop.ParseError
	if errors.As(err, &parseErr) {
		return c.JSON(http.StatusUnprocessableEntity, errorBody(err.Error()))
	}

	var cfgErr *interop.ConfigError
	if errors.As(err, &cfgErr) {
		h.log.Error().Err(err).Msg("conversion failed on configuration")
		return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
	}

	var tmplErr *interop.TemplateError
	if errors.As(err, &tmplErr) {
		h.log.Error().Err(err).Msg("conversion failed on template")
		return c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
	}

	return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func readBody(c echo.Context) (string, error) {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
