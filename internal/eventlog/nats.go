package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the root of every published subject.
const DefaultSubjectPrefix = "rollout.events"

// NATSPublisher publishes entries as JSON to
// <prefix>.<scope>.<subjectId>.<type>.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSPublisher creates a publisher on nc.
func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{nc: nc, prefix: prefix}
}

// Subject returns the subject e is published on.
func (p *NATSPublisher) Subject(e Entry) string {
	return fmt.Sprintf("%s.%s.%s.%s", p.prefix, token(string(e.Scope)), token(e.SubjectID), token(e.Type))
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(_ context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	if err := p.nc.Publish(p.Subject(e), data); err != nil {
		return fmt.Errorf("publish audit entry %d: %w", e.ID, err)
	}
	return nil
}

var subjectReplacer = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_", "\t", "_")

func token(s string) string {
	if s == "" {
		return "_"
	}
	return subjectReplacer.Replace(s)
}
