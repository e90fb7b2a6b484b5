// Package main implements rollctl, the command-line client for the rolloutd
// HTTP API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	httpserver "github.com/fyrsmithlabs/rolloutd/internal/http"
	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the rolloutd HTTP server
	serverURL string
	// actorName is sent as the acting user on every request
	actorName string
	// jsonOutput prints raw JSON responses instead of summaries
	jsonOutput bool
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rollctl",
	Short: "CLI for the rolloutd rollout controller",
	Long: `rollctl is a command-line interface for the rolloutd HTTP server.
It submits and reviews proposals, checks paths against the guard, drives
canary runs and tails the audit log.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8085", "rolloutd server URL")
	rootCmd.PersistentFlags().StringVar(&actorName, "actor", os.Getenv("USER"), "actor recorded for state changes")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print raw JSON responses")
	rootCmd.AddCommand(healthCmd)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check rolloutd server health",
	Long: `Check the health status of the rolloutd HTTP server.

Examples:
  # Check health
  rollctl health

  # Check health on a different server
  rollctl health --server http://localhost:9090`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

func runHealth(cmd *cobra.Command, _ []string) error {
	var resp httpserver.HealthResponse
	if err := call(http.MethodGet, "/health", nil, &resp); err != nil {
		return err
	}
	return output(cmd, resp, func(w io.Writer) {
		fmt.Fprintf(w, "Server Status: %s\n", resp.Status)
		fmt.Fprintf(w, "Server URL: %s\n", serverURL)
		fmt.Fprintf(w, "Last Event: %d\n", resp.LastEventID)
	})
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

// call sends body as JSON and decodes a 2xx response into out. Non-2xx
// responses are returned as *apiError.
func call(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	url := strings.TrimRight(serverURL, "/") + path
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if actorName != "" {
		req.Header.Set(httpserver.ActorHeader, actorName)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// apiError is a non-2xx API response.
type apiError struct {
	Status int
	Body   httpserver.ErrorResponse
}

func (e *apiError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "server returned status %d", e.Status)
	if e.Body.Code != "" {
		fmt.Fprintf(&b, " (%s)", e.Body.Code)
	}
	if e.Body.Error != "" {
		fmt.Fprintf(&b, ": %s", e.Body.Error)
	}
	for _, v := range e.Body.Violations {
		fmt.Fprintf(&b, "\n  denied %s [%s] %s", v.Path, v.Rule, v.Reason)
	}
	for _, f := range e.Body.Fields {
		fmt.Fprintf(&b, "\n  %s %s", f.Field, f.Message)
	}
	return b.String()
}

func decodeError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, err)
	}
	apiErr := &apiError{Status: resp.StatusCode}
	if json.Unmarshal(body, &apiErr.Body) != nil {
		apiErr.Body.Error = strings.TrimSpace(string(body))
	}
	return apiErr
}

// output prints v as indented JSON with --json, or the summary otherwise.
func output(cmd *cobra.Command, v any, summary func(io.Writer)) error {
	w := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	summary(w)
	return nil
}

// readInput reads a file, or stdin for "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	return data, nil
}
