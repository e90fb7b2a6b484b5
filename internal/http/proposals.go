package http

import (
	"net/http"
	"strings"

	"github.com/fyrsmithlabs/rolloutd/internal/lifecycle"
	"github.com/fyrsmithlabs/rolloutd/internal/risk"
	"github.com/labstack/echo/v4"
)

// ActionRequest is the optional body of approve, decline and
// request-edit.
type ActionRequest struct {
	Actor  string `json:"actor,omitempty"`
	Reason string `json:"reason,omitempty"`
	Note   string `json:"note,omitempty"`
}

// ResubmitRequest carries edits for an edited proposal.
type ResubmitRequest struct {
	Actor string `json:"actor,omitempty"`
	lifecycle.EditRequest
}

// ApplyRequest carries the optional KPI observation recorded on apply.
type ApplyRequest struct {
	Actor string `json:"actor,omitempty"`
	lifecycle.ApplyOptions
}

// ProposalList is the response body for GET /api/v1/proposals.
type ProposalList struct {
	Proposals []*lifecycle.Proposal `json:"proposals"`
	Count     int                   `json:"count"`
}

// RiskResponse is the response body for GET /api/v1/proposals/:id/risk.
type RiskResponse struct {
	ProposalID  string           `json:"proposalId"`
	Assessment  risk.Assessment  `json:"assessment"`
	Eligibility risk.Eligibility `json:"eligibility"`
}

func (s *Server) handleSubmit(c echo.Context) error {
	var req lifecycle.SubmitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SubmittedBy == "" {
		req.SubmittedBy = c.Request().Header.Get(ActorHeader)
	}
	p, err := s.deps.Lifecycle.Submit(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (s *Server) handleListProposals(c echo.Context) error {
	var filter lifecycle.ListFilter
	if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
		filter.Status = lifecycle.Status(raw)
		if !filter.Status.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown status "+raw)
		}
	}
	list := s.deps.Lifecycle.List(c.Request().Context(), filter)
	if list == nil {
		list = []*lifecycle.Proposal{}
	}
	return c.JSON(http.StatusOK, ProposalList{Proposals: list, Count: len(list)})
}

func (s *Server) handleGetProposal(c echo.Context) error {
	p, err := s.deps.Lifecycle.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleProposalRisk(c echo.Context) error {
	id := c.Param("id")
	a, elig, err := s.deps.Lifecycle.Risk(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, RiskResponse{ProposalID: id, Assessment: a, Eligibility: elig})
}

func (s *Server) handleApprove(c echo.Context) error {
	var req ActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := s.deps.Lifecycle.Approve(c.Request().Context(), c.Param("id"), actor(c, req.Actor))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleDecline(c echo.Context) error {
	var req ActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := s.deps.Lifecycle.Decline(c.Request().Context(), c.Param("id"), actor(c, req.Actor), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleRequestEdit(c echo.Context) error {
	var req ActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := s.deps.Lifecycle.RequestEdit(c.Request().Context(), c.Param("id"), actor(c, req.Actor), req.Note)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleResubmit(c echo.Context) error {
	var req ResubmitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := s.deps.Lifecycle.Resubmit(c.Request().Context(), c.Param("id"), actor(c, req.Actor), req.EditRequest)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleApply(c echo.Context) error {
	var req ApplyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := s.deps.Lifecycle.Apply(c.Request().Context(), c.Param("id"), actor(c, req.Actor), req.ApplyOptions)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}
