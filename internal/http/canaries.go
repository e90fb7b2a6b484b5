package http

import (
	"net/http"

	"github.com/fyrsmithlabs/rolloutd/internal/canary"
	"github.com/labstack/echo/v4"
)

// CanaryList is the response body for GET /api/v1/canaries.
type CanaryList struct {
	Runs  []*canary.Run `json:"runs"`
	Count int           `json:"count"`
}

// RollbackList is the response body for GET /api/v1/rollbacks.
type RollbackList struct {
	Rollbacks []canary.RollbackRecord `json:"rollbacks"`
	Count     int                     `json:"count"`
}

func (s *Server) handleStartCanary(c echo.Context) error {
	var req canary.StartRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Actor = actor(c, req.Actor)
	run, err := s.deps.Canary.StartCanaryDeploy(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, run)
}

func (s *Server) handleListCanaries(c echo.Context) error {
	runs := s.deps.Canary.List(c.Request().Context())
	if runs == nil {
		runs = []*canary.Run{}
	}
	return c.JSON(http.StatusOK, CanaryList{Runs: runs, Count: len(runs)})
}

func (s *Server) handleGetCanary(c echo.Context) error {
	run, err := s.deps.Canary.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleSmokeTest(c echo.Context) error {
	run, err := s.deps.Canary.RunSmokeTests(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) handlePromote(c echo.Context) error {
	var req ActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	run, err := s.deps.Canary.Promote(c.Request().Context(), c.Param("id"), actor(c, req.Actor))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleRollback(c echo.Context) error {
	var req ActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	run, err := s.deps.Canary.Rollback(c.Request().Context(), c.Param("id"), req.Reason, actor(c, req.Actor))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleRollbacks(c echo.Context) error {
	recs := s.deps.Canary.Rollbacks(c.Request().Context())
	if recs == nil {
		recs = []canary.RollbackRecord{}
	}
	return c.JSON(http.StatusOK, RollbackList{Rollbacks: recs, Count: len(recs)})
}
