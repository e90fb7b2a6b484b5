package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fyrsmithlabs/rolloutd/internal/eventlog"
	httpserver "github.com/fyrsmithlabs/rolloutd/internal/http"
	"github.com/spf13/cobra"
)

var (
	eventsSince  uint64
	eventsFollow bool
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print audit log entries",
	Long: `Print audit log entries after a cursor.

With --follow the command keeps streaming new entries until interrupted.

Examples:
  rollctl events
  rollctl events --since 120 --follow`,
	Args: cobra.NoArgs,
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().Uint64Var(&eventsSince, "since", 0, "only entries with an ID greater than this")
	eventsCmd.Flags().BoolVarP(&eventsFollow, "follow", "f", false, "stream new entries")
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, _ []string) error {
	if eventsFollow {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return followEvents(ctx, cmd.OutOrStdout(), eventsSince)
	}

	var list httpserver.EventList
	if err := call(http.MethodGet, fmt.Sprintf("/api/v1/events?since=%d", eventsSince), nil, &list); err != nil {
		return err
	}
	return output(cmd, list, func(w io.Writer) {
		for _, e := range list.Entries {
			printEntry(w, e)
		}
	})
}

// followEvents reads the server-sent event stream and prints each entry.
// The stream is reopened from the last seen ID when the connection drops.
func followEvents(ctx context.Context, w io.Writer, cursor uint64) error {
	client := &http.Client{}
	for {
		last, err := streamOnce(ctx, client, w, cursor)
		cursor = last
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}

func streamOnce(ctx context.Context, client *http.Client, w io.Writer, cursor uint64) (uint64, error) {
	url := strings.TrimRight(serverURL, "/") + "/api/v1/events/stream"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return cursor, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Last-Event-ID", fmt.Sprint(cursor))

	resp, err := client.Do(req)
	if err != nil {
		return cursor, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return cursor, decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var e eventlog.Entry
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e); err != nil {
			continue
		}
		if jsonOutput {
			fmt.Fprintln(w, strings.TrimPrefix(line, "data: "))
		} else {
			printEntry(w, e)
		}
		cursor = e.ID
	}
	return cursor, nil
}

func printEntry(w io.Writer, e eventlog.Entry) {
	fmt.Fprintf(w, "%6d  %s  %-8s %-36s %-24s %s\n",
		e.ID, e.Timestamp.Local().Format(time.RFC3339), e.Scope, e.SubjectID, e.Type, e.Message)
}
