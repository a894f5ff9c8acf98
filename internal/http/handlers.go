package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/toolgate/internal/activation"
	"github.com/fyrsmithlabs/toolgate/internal/apperr"
	"github.com/fyrsmithlabs/toolgate/internal/iam"
	"github.com/fyrsmithlabs/toolgate/internal/search"
)

// Actor headers, used when the body does not carry an actor.
const (
	HeaderActorID           = "X-Actor-ID"
	HeaderActorRole         = "X-Actor-Role"
	HeaderActorCapabilities = "X-Actor-Capabilities"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// LoadRequest is the request body for POST /api/v1/load.
type LoadRequest struct {
	Dir string `json:"dir"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleDiagnostics(c echo.Context) error {
	if s.deps.Diagnostics == nil {
		return c.JSON(http.StatusOK, map[string]any{"ok": true})
	}
	return c.JSON(http.StatusOK, s.deps.Diagnostics(c.Request().Context()))
}

func (s *Server) handleSearch(c echo.Context) error {
	var req search.Request
	if err := c.Bind(&req); err != nil {
		return apperr.Wrap(apperr.CodeInvalidInput, "invalid request body", err)
	}
	if req.Actor == nil {
		req.Actor = actorFromHeaders(c.Request().Header)
	}
	resp, err := s.deps.Search.Search(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleActivate(c echo.Context) error {
	input := map[string]any{}
	if err := c.Bind(&input); err != nil {
		return apperr.Wrap(apperr.CodeInvalidInput, "invalid request body", err)
	}
	p := activation.Params{Input: input}
	if _, ok := input["actor"]; !ok {
		p.Actor = actorFromHeaders(c.Request().Header)
	}
	resp, err := s.deps.Activation.Activate(c.Request().Context(), p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleLoad(c echo.Context) error {
	var req LoadRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Wrap(apperr.CodeInvalidInput, "invalid request body", err)
	}
	summary, err := s.deps.Loader.Load(c.Request().Context(), req.Dir)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary)
}

// actorFromHeaders returns nil when no actor header is present.
func actorFromHeaders(h http.Header) *iam.Actor {
	id := strings.TrimSpace(h.Get(HeaderActorID))
	role := strings.TrimSpace(h.Get(HeaderActorRole))
	var caps []string
	for _, c := range strings.Split(h.Get(HeaderActorCapabilities), ",") {
		if c = strings.TrimSpace(c); c != "" {
			caps = append(caps, c)
		}
	}
	if id == "" && role == "" && len(caps) == 0 {
		return nil
	}
	return &iam.Actor{ID: id, Role: role, Capabilities: caps}
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	OK      bool           `json:"ok"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// handleError maps coded errors and echo errors to ErrorResponse.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	body := ErrorResponse{Code: string(apperr.CodeInternal), Message: "internal error"}

	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		status = he.Code
		body.Code = codeForStatus(he.Code)
		body.Message = http.StatusText(he.Code)
		if msg, ok := he.Message.(string); ok {
			body.Message = msg
		}
	default:
		code := apperr.CodeOf(err)
		status = apperr.HTTPStatus(code)
		body.Code = string(code)
		if code != apperr.CodeInternal {
			body.Message = err.Error()
			var ae *apperr.Error
			if errors.As(err, &ae) {
				body.Message = ae.Message
			}
			body.Context = apperr.ContextOf(err)
		}
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", c.Path()),
			zap.String("code", body.Code),
			zap.Error(err))
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		s.logger.Warn("writing error response failed", zap.Error(err))
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnsupportedMediaType, http.StatusRequestEntityTooLarge:
		return string(apperr.CodeInvalidInput)
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return string(apperr.CodeNotFound)
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusForbidden:
		return string(apperr.CodeIAMDenied)
	default:
		return string(apperr.CodeInternal)
	}
}
