package http

import (
	"net/http"
	"strconv"

	"github.com/fyrsmithlabs/rolloutd/internal/feedback"
	"github.com/fyrsmithlabs/rolloutd/internal/guard"
	"github.com/labstack/echo/v4"
)

// GuardValidateRequest is the body of POST /api/v1/guard/validate.
type GuardValidateRequest struct {
	Files []guard.FileOperation `json:"files"`
}

// FeedbackResponse is the response body for GET /api/v1/feedback/:kpiKey.
type FeedbackResponse struct {
	KPIKey      string            `json:"kpiKey"`
	Records     []feedback.Record `json:"records"`
	Regressions int               `json:"regressions"`
}

func (s *Server) handleGuardValidate(c echo.Context) error {
	var req GuardValidateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Files) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "files field is required")
	}
	return c.JSON(http.StatusOK, s.deps.Guard.ValidateBatch(c.Request().Context(), req.Files))
}

// handleGuardCheck classifies a single file. Content, when given, is
// scanned the same way as in a batch.
func (s *Server) handleGuardCheck(c echo.Context) error {
	var req guard.FileOperation
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res := s.deps.Guard.ValidateBatch(c.Request().Context(), []guard.FileOperation{req})
	return c.JSON(http.StatusOK, res.Results[0])
}

func (s *Server) handleFeedback(c echo.Context) error {
	key := c.Param("kpiKey")
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}
	recs := s.deps.History.Recent(key, limit)
	if recs == nil {
		recs = []feedback.Record{}
	}
	return c.JSON(http.StatusOK, FeedbackResponse{
		KPIKey:      key,
		Records:     recs,
		Regressions: s.deps.History.RecentRegressions(key, len(recs)),
	})
}
