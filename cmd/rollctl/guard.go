package main

import (
	"fmt"
	"io"
	"net/http"

	"github.com/fyrsmithlabs/rolloutd/internal/guard"
	httpserver "github.com/fyrsmithlabs/rolloutd/internal/http"
	"github.com/spf13/cobra"
)

var guardOperation string

var guardCmd = &cobra.Command{
	Use:   "guard",
	Short: "Check paths against the guard rules",
}

var guardCheckCmd = &cobra.Command{
	Use:   "check <path>...",
	Short: "Classify one or more paths",
	Long: `Classify paths as allowed, review-required or denied.

The command exits non-zero when any path is denied.

Examples:
  rollctl guard check src/components/Button.tsx
  rollctl guard check .env deploy/app.yaml --op delete`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGuardCheck,
}

func init() {
	guardCheckCmd.Flags().StringVar(&guardOperation, "op", guard.OpModify, "operation: create, modify, delete or rename")
	guardCmd.AddCommand(guardCheckCmd)
	rootCmd.AddCommand(guardCmd)
}

func runGuardCheck(cmd *cobra.Command, args []string) error {
	req := httpserver.GuardValidateRequest{}
	for _, p := range args {
		req.Files = append(req.Files, guard.FileOperation{Path: p, Operation: guardOperation})
	}
	var res guard.BatchResult
	if err := call(http.MethodPost, "/api/v1/guard/validate", req, &res); err != nil {
		return err
	}
	if err := output(cmd, res, func(w io.Writer) {
		for _, v := range res.Results {
			fmt.Fprintf(w, "%-8s %s [%s]", verdictLabel(v), v.Path, v.Rule)
			if v.Reason != "" {
				fmt.Fprintf(w, " %s", v.Reason)
			}
			fmt.Fprintln(w)
		}
	}); err != nil {
		return err
	}
	if res.HasViolations {
		return fmt.Errorf("%d path(s) denied", len(res.Violations))
	}
	return nil
}

func verdictLabel(v guard.Verdict) string {
	switch {
	case !v.Allowed:
		return "DENIED"
	case v.RequiresReview:
		return "REVIEW"
	default:
		return "ALLOWED"
	}
}
