package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"

	httpserver "github.com/fyrsmithlabs/rolloutd/internal/http"
	"github.com/fyrsmithlabs/rolloutd/internal/lifecycle"
	"github.com/spf13/cobra"
)

var (
	listStatus    string
	declineReason string
	editNote      string
	applyKPI      string
	applyBaseline float64
	applyObserved float64
)

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "only list proposals in this status")
	declineCmd.Flags().StringVar(&declineReason, "reason", "", "reason for declining")
	requestEditCmd.Flags().StringVar(&editNote, "note", "", "what needs to change")
	applyCmd.Flags().StringVar(&applyKPI, "kpi", "", "KPI key (defaults to the proposal's)")
	applyCmd.Flags().Float64Var(&applyBaseline, "baseline", 0, "KPI baseline value")
	applyCmd.Flags().Float64Var(&applyObserved, "observed", 0, "observed KPI value")

	rootCmd.AddCommand(submitCmd, getCmd, listCmd, approveCmd, declineCmd, requestEditCmd, resubmitCmd, applyCmd)
}

var submitCmd = &cobra.Command{
	Use:   "submit <file>",
	Short: "Submit a proposal from a JSON file or stdin",
	Long: `Submit a proposal. The file holds a JSON submission with title, type,
scope, files and optional description, summary, diff and kpiKey.

Examples:
  rollctl submit proposal.json
  cat proposal.json | rollctl submit -`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a proposal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var p lifecycle.Proposal
		if err := call(http.MethodGet, "/api/v1/proposals/"+url.PathEscape(args[0]), nil, &p); err != nil {
			return err
		}
		return output(cmd, p, func(w io.Writer) { printProposal(w, &p) })
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List proposals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := "/api/v1/proposals"
		if listStatus != "" {
			path += "?status=" + url.QueryEscape(listStatus)
		}
		var list httpserver.ProposalList
		if err := call(http.MethodGet, path, nil, &list); err != nil {
			return err
		}
		return output(cmd, list, func(w io.Writer) {
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tRISK\tTYPE\tTITLE")
			for _, p := range list.Proposals {
				fmt.Fprintf(tw, "%s\t%s\t%s (%d)\t%s\t%s\n", p.ID, p.Status, p.RiskAssessment.Level, p.RiskAssessment.Score, p.Type, p.Title)
			}
			_ = tw.Flush()
		})
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a pending proposal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd, args[0], "approve", httpserver.ActionRequest{})
	},
}

var declineCmd = &cobra.Command{
	Use:   "decline <id>",
	Short: "Decline a pending proposal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd, args[0], "decline", httpserver.ActionRequest{Reason: declineReason})
	},
}

var requestEditCmd = &cobra.Command{
	Use:   "request-edit <id>",
	Short: "Send a pending proposal back for edits",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd, args[0], "request-edit", httpserver.ActionRequest{Note: editNote})
	},
}

var resubmitCmd = &cobra.Command{
	Use:   "resubmit <id> <file>",
	Short: "Resubmit an edited proposal with changes from a JSON file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(args[1])
		if err != nil {
			return err
		}
		var edits lifecycle.EditRequest
		if err := json.Unmarshal(data, &edits); err != nil {
			return fmt.Errorf("failed to parse edits: %w", err)
		}
		return runAction(cmd, args[0], "resubmit", httpserver.ResubmitRequest{EditRequest: edits})
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply <id>",
	Short: "Apply an approved proposal and record its KPI observation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := httpserver.ApplyRequest{}
		req.KPIKey = applyKPI
		if cmd.Flags().Changed("baseline") {
			req.Baseline = &applyBaseline
		}
		if cmd.Flags().Changed("observed") {
			req.Observed = &applyObserved
		}
		return runAction(cmd, args[0], "apply", req)
	},
}

func runSubmit(cmd *cobra.Command, args []string) error {
	data, err := readInput(args[0])
	if err != nil {
		return err
	}
	var req lifecycle.SubmitRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("failed to parse proposal: %w", err)
	}

	var p lifecycle.Proposal
	if err := call(http.MethodPost, "/api/v1/proposals", req, &p); err != nil {
		return err
	}
	return output(cmd, p, func(w io.Writer) { printProposal(w, &p) })
}

func runAction(cmd *cobra.Command, id, action string, body any) error {
	var res lifecycle.Result
	path := fmt.Sprintf("/api/v1/proposals/%s/%s", url.PathEscape(id), action)
	if err := call(http.MethodPost, path, body, &res); err != nil {
		return err
	}
	return output(cmd, res, func(w io.Writer) {
		if !res.Changed {
			fmt.Fprintf(w, "Proposal %s already %s\n", res.ProposalID, res.Status)
		} else {
			fmt.Fprintf(w, "Proposal %s: %s -> %s\n", res.ProposalID, res.PreviousStatus, res.Status)
		}
		if len(res.ReviewPaths) > 0 {
			fmt.Fprintf(w, "Review required: %s\n", strings.Join(res.ReviewPaths, ", "))
		}
		if res.Feedback != nil {
			fmt.Fprintf(w, "KPI %s: delta %.2f%% (%s)\n", res.Feedback.KPIKey, res.Feedback.Delta, res.Feedback.Outcome)
			if res.Feedback.RollbackRecommended {
				fmt.Fprintln(w, "Rollback recommended")
			}
		}
		for _, warning := range res.Warnings {
			fmt.Fprintf(w, "Warning: %s\n", warning)
		}
	})
}

func printProposal(w io.Writer, p *lifecycle.Proposal) {
	fmt.Fprintf(w, "ID:          %s\n", p.ID)
	fmt.Fprintf(w, "Title:       %s\n", p.Title)
	fmt.Fprintf(w, "Type:        %s\n", p.Type)
	fmt.Fprintf(w, "Status:      %s\n", p.Status)
	fmt.Fprintf(w, "Risk:        %s (score %d)\n", p.RiskAssessment.Level, p.RiskAssessment.Score)
	fmt.Fprintf(w, "Correlation: %s\n", p.CorrelationID)
	fmt.Fprintf(w, "Files:       %d\n", len(p.Files))
	for _, r := range p.RiskAssessment.Reasons {
		fmt.Fprintf(w, "  - %s\n", r)
	}
	for _, warning := range p.Warnings {
		fmt.Fprintf(w, "Warning: %s\n", warning)
	}
}
