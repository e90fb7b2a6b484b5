package http

import (
	"errors"
	"net/http"

	"github.com/fyrsmithlabs/rolloutd/internal/canary"
	"github.com/fyrsmithlabs/rolloutd/internal/guard"
	"github.com/fyrsmithlabs/rolloutd/internal/lifecycle"
	"github.com/fyrsmithlabs/rolloutd/internal/logging"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeGuardBlocked      = "guard_blocked"
	CodeRiskIneligible    = "risk_ineligible"
	CodeInvalidTransition = "invalid_transition"
	CodeInvalidState      = "invalid_state"
	CodeNotAdmitted       = "not_admitted"
	CodeNotFound          = "not_found"
	CodeValidation        = "validation_failed"
	CodeBadRequest        = "bad_request"
	CodeRateLimited       = "rate_limited"
	CodeInternal          = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error      string                 `json:"error"`
	Code       string                 `json:"code"`
	ReasonCode string                 `json:"reasonCode,omitempty"`
	Violations []guard.Verdict        `json:"violations,omitempty"`
	Fields     []lifecycle.FieldError `json:"fields,omitempty"`
	RequestID  string                 `json:"requestId,omitempty"`
}

// toResponse maps a component error onto a status and body.
func toResponse(err error) (int, ErrorResponse) {
	var (
		guardErr *lifecycle.GuardBlockedError
		riskErr  *lifecycle.RiskIneligibleError
		validErr *lifecycle.ValidationError
		echoErr  *echo.HTTPError
		resp     = ErrorResponse{Error: err.Error()}
	)

	switch {
	case errors.As(err, &guardErr):
		resp.Code = CodeGuardBlocked
		resp.Violations = guardErr.Violations
		return http.StatusForbidden, resp
	case errors.As(err, &riskErr):
		resp.Code = CodeRiskIneligible
		resp.ReasonCode = riskErr.ReasonCode
		return http.StatusConflict, resp
	case errors.As(err, &validErr):
		resp.Code = CodeValidation
		resp.Fields = validErr.Fields
		return http.StatusBadRequest, resp
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		resp.Code = CodeInvalidTransition
		return http.StatusConflict, resp
	case errors.Is(err, canary.ErrInvalidState):
		resp.Code = CodeInvalidState
		return http.StatusConflict, resp
	case errors.Is(err, canary.ErrNotAdmitted):
		resp.Code = CodeNotAdmitted
		return http.StatusConflict, resp
	case errors.Is(err, lifecycle.ErrNotFound), errors.Is(err, canary.ErrNotFound):
		resp.Code = CodeNotFound
		return http.StatusNotFound, resp
	case errors.Is(err, canary.ErrInvalidRequest):
		resp.Code = CodeBadRequest
		return http.StatusBadRequest, resp
	case errors.As(err, &echoErr):
		resp.Error = http.StatusText(echoErr.Code)
		if msg, ok := echoErr.Message.(string); ok {
			resp.Error = msg
		}
		switch echoErr.Code {
		case http.StatusNotFound:
			resp.Code = CodeNotFound
		case http.StatusTooManyRequests:
			resp.Code = CodeRateLimited
		case http.StatusInternalServerError:
			resp.Code = CodeInternal
		default:
			resp.Code = CodeBadRequest
		}
		return echoErr.Code, resp
	}

	resp.Code = CodeInternal
	resp.Error = "internal server error"
	return http.StatusInternalServerError, resp
}

func errorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, resp := toResponse(err)
		resp.RequestID = c.Response().Header().Get(echo.HeaderXRequestID)

		ctx := c.Request().Context()
		if status >= http.StatusInternalServerError {
			logger.Error(ctx, "request failed", zap.Error(err))
		} else {
			logger.Debug(ctx, "request rejected", zap.Int("status", status), zap.String("code", resp.Code), zap.Error(err))
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, resp)
		}
		if err != nil {
			logger.Warn(ctx, "failed to write error response", zap.Error(err))
		}
	}
}
