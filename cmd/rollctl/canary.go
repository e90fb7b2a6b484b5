package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"text/tabwriter"
	"time"

	"github.com/fyrsmithlabs/rolloutd/internal/canary"
	httpserver "github.com/fyrsmithlabs/rolloutd/internal/http"
	"github.com/spf13/cobra"
)

var (
	canaryTTL         time.Duration
	canaryAutoPromote bool
	rollbackReason    string
)

var canaryCmd = &cobra.Command{
	Use:   "canary",
	Short: "Drive canary runs",
}

var canaryStartCmd = &cobra.Command{
	Use:   "start <proposal-id> <path>...",
	Short: "Start a canary run for a proposal's files",
	Long: `Start a canary run. Each path is deployed as a modification.

Examples:
  rollctl canary start 3f1c... src/components/Button.tsx
  rollctl canary start 3f1c... src/a.ts src/b.ts --ttl 10m --auto-promote`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := canary.StartRequest{ProposalID: args[0]}
		for _, p := range args[1:] {
			req.Changes = append(req.Changes, canary.Change{Path: p, Action: "modify"})
		}
		if canaryTTL > 0 {
			req.TTLSeconds = int64(canaryTTL / time.Second)
		}
		if cmd.Flags().Changed("auto-promote") {
			req.AutoPromote = &canaryAutoPromote
		}
		var run canary.Run
		if err := call(http.MethodPost, "/api/v1/canaries", req, &run); err != nil {
			return err
		}
		return output(cmd, run, func(w io.Writer) { printRun(w, &run) })
	},
}

var canaryStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show a canary run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCanary(cmd, http.MethodGet, args[0], "", nil)
	},
}

var canaryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List canary runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var list httpserver.CanaryList
		if err := call(http.MethodGet, "/api/v1/canaries", nil, &list); err != nil {
			return err
		}
		return output(cmd, list, func(w io.Writer) {
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPROPOSAL\tSTATUS\tREMAINING")
			for _, r := range list.Runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.ProposalID, r.Status, remaining(r))
			}
			_ = tw.Flush()
		})
	},
}

var canarySmokeCmd = &cobra.Command{
	Use:   "smoke-test <id>",
	Short: "Run smoke tests now instead of waiting for the schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCanary(cmd, http.MethodPost, args[0], "smoke-test", nil)
	},
}

var canaryPromoteCmd = &cobra.Command{
	Use:   "promote <id>",
	Short: "Promote a run that passed smoke tests",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCanary(cmd, http.MethodPost, args[0], "promote", httpserver.ActionRequest{})
	},
}

var canaryRollbackCmd = &cobra.Command{
	Use:   "rollback <id>",
	Short: "Roll back a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCanary(cmd, http.MethodPost, args[0], "rollback", httpserver.ActionRequest{Reason: rollbackReason})
	},
}

func init() {
	canaryStartCmd.Flags().DurationVar(&canaryTTL, "ttl", 0, "time before the run is rolled back automatically")
	canaryStartCmd.Flags().BoolVar(&canaryAutoPromote, "auto-promote", false, "promote automatically after smoke tests pass")
	canaryRollbackCmd.Flags().StringVar(&rollbackReason, "reason", "", "reason for the rollback")

	canaryCmd.AddCommand(canaryStartCmd, canaryStatusCmd, canaryListCmd, canarySmokeCmd, canaryPromoteCmd, canaryRollbackCmd)
	rootCmd.AddCommand(canaryCmd)
}

func runCanary(cmd *cobra.Command, method, id, action string, body any) error {
	path := "/api/v1/canaries/" + url.PathEscape(id)
	if action != "" {
		path += "/" + action
	}
	var run canary.Run
	if err := call(method, path, body, &run); err != nil {
		return err
	}
	return output(cmd, run, func(w io.Writer) { printRun(w, &run) })
}

func remaining(r *canary.Run) string {
	if r.Status.Terminal() {
		return "-"
	}
	return time.Duration(r.TimeRemaining * float64(time.Second)).Round(time.Second).String()
}

func printRun(w io.Writer, r *canary.Run) {
	fmt.Fprintf(w, "ID:        %s\n", r.ID)
	fmt.Fprintf(w, "Proposal:  %s\n", r.ProposalID)
	fmt.Fprintf(w, "Status:    %s\n", r.Status)
	fmt.Fprintf(w, "Branch:    %s\n", r.Branch)
	fmt.Fprintf(w, "Remaining: %s\n", remaining(r))
	if r.RollbackReason != "" {
		fmt.Fprintf(w, "Rollback:  %s\n", r.RollbackReason)
	}
	for _, c := range r.DryRun {
		fmt.Fprintf(w, "  dry-run %-16s %s\n", c.Name, passFail(c.Passed, c.Error))
	}
	for _, p := range r.SmokeResults {
		fmt.Fprintf(w, "  smoke   %-16s %s\n", p.Name, passFail(p.Healthy, p.Error))
	}
}

func passFail(ok bool, msg string) string {
	if ok {
		return "ok"
	}
	if msg == "" {
		return "FAILED"
	}
	return "FAILED: " + msg
}
