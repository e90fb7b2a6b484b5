package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/rolloutd/internal/eventlog"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// EventList is the response body for GET /api/v1/events.
type EventList struct {
	Entries []eventlog.Entry `json:"entries"`
	LastID  uint64           `json:"lastId"`
}

// cursor reads the resume point from Last-Event-ID, falling back to the
// since query parameter.
func cursor(c echo.Context) (uint64, error) {
	raw := strings.TrimSpace(c.Request().Header.Get("Last-Event-ID"))
	if raw == "" {
		raw = strings.TrimSpace(c.QueryParam("since"))
	}
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "cursor must be a non-negative integer")
	}
	return n, nil
}

func (s *Server) handleEvents(c echo.Context) error {
	since, err := cursor(c)
	if err != nil {
		return err
	}
	entries, err := s.deps.Audit.Since(c.Request().Context(), since)
	if err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}
	if entries == nil {
		entries = []eventlog.Entry{}
	}
	last := since
	if n := len(entries); n > 0 {
		last = entries[n-1].ID
	}
	return c.JSON(http.StatusOK, EventList{Entries: entries, LastID: last})
}

// handleEventStream streams audit entries via Server-Sent Events.
//
// The backlog after the cursor is replayed first, then live entries follow
// without gaps. Each event carries the entry ID so a reconnecting client
// resumes with Last-Event-ID:
//
//	id: 42
//	event: promoted
//	data: {"id":42,"scope":"canary",...}
func (s *Server) handleEventStream(c echo.Context) error {
	since, err := cursor(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	sub, err := s.deps.Audit.Subscribe(ctx, since)
	if err != nil {
		return fmt.Errorf("subscribe to audit log: %w", err)
	}
	defer sub.Close()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	// Heartbeat ticker to prevent proxy timeouts
	ticker := time.NewTicker(s.config.SSEHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-sub.C:
			if !ok {
				return nil
			}
			data, err := json.Marshal(e)
			if err != nil {
				s.logger.Warn(ctx, "failed to encode audit entry", zap.Uint64("id", e.ID), zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data); err != nil {
				return nil
			}
			w.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return nil
			}
			w.Flush()
		case <-ctx.Done():
			return nil
		}
	}
}
