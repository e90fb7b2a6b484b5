// Package eventlog is the append-only audit log shared by proposals and
// canary runs.
//
// Entries carry strictly increasing IDs. Observers resume with a cursor:
// Since returns every entry after the cursor exactly once, and Subscribe
// replays that backlog and then continues with live entries without gaps
// or duplicates.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fyrsmithlabs/rolloutd/internal/logging"
	"github.com/fyrsmithlabs/rolloutd/internal/timeline"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/rolloutd/internal/eventlog"

// ErrClosed is returned after Close.
var ErrClosed = errors.New("eventlog: closed")

// Scope names the kind of entity an entry belongs to.
type Scope string

const (
	ScopeProposal Scope = "proposal"
	ScopeCanary   Scope = "canary"
)

// Entry is one audit record.
type Entry struct {
	ID            uint64 `json:"id"`
	Scope         Scope  `json:"scope"`
	SubjectID     string `json:"subjectId"`
	CorrelationID string `json:"correlationId,omitempty"`
	timeline.Event
}

// Publisher fans entries out to external observers. Failures are logged
// and never block or fail an append.
type Publisher interface {
	Publish(ctx context.Context, e Entry) error
}

// Log is the audit log.
type Log struct {
	store     Store
	publisher Publisher
	logger    *logging.Logger
	appended  metric.Int64Counter

	mu      sync.Mutex
	lastID  uint64
	subs    map[uint64]*Subscription
	nextSub uint64
	closed  bool
}

// Option configures a Log.
type Option func(*Log)

// WithPublisher attaches a Publisher.
func WithPublisher(p Publisher) Option {
	return func(l *Log) { l.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// New opens a Log on store, continuing from its last ID.
func New(ctx context.Context, store Store, opts ...Option) (*Log, error) {
	last, err := store.LastID(ctx)
	if err != nil {
		return nil, fmt.Errorf("read last audit id: %w", err)
	}
	l := &Log{
		store:  store,
		logger: logging.NewNop(),
		lastID: last,
		subs:   make(map[uint64]*Subscription),
	}
	for _, opt := range opts {
		opt(l)
	}

	counter, err := otel.Meter(instrumentationName).Int64Counter(
		"rolloutd.eventlog.appended_total",
		metric.WithDescription("Audit entries appended"),
	)
	if err != nil {
		l.logger.Warn(ctx, "failed to create eventlog counter", zap.Error(err))
	}
	l.appended = counter
	return l, nil
}

// Append records ev for the given subject and returns the stored entry.
func (l *Log) Append(ctx context.Context, scope Scope, subjectID, correlationID string, ev timeline.Event) (Entry, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return Entry{}, ErrClosed
	}

	e := Entry{
		ID:            l.lastID + 1,
		Scope:         scope,
		SubjectID:     subjectID,
		CorrelationID: correlationID,
		Event:         ev,
	}
	if err := l.store.Append(ctx, e); err != nil {
		l.mu.Unlock()
		return Entry{}, fmt.Errorf("append audit entry: %w", err)
	}
	l.lastID = e.ID
	for _, sub := range l.subs {
		sub.enqueue(e)
	}
	l.mu.Unlock()

	if l.appended != nil {
		l.appended.Add(ctx, 1, metric.WithAttributes(
			attribute.String("scope", string(scope)),
			attribute.String("type", ev.Type),
		))
	}
	if l.publisher != nil {
		if err := l.publisher.Publish(ctx, e); err != nil {
			l.logger.Warn(ctx, "failed to publish audit entry", zap.Uint64("id", e.ID), zap.Error(err))
		}
	}
	return e, nil
}

// Since returns all entries with ID > cursor, in order.
func (l *Log) Since(ctx context.Context, cursor uint64) ([]Entry, error) {
	return l.store.Since(ctx, cursor, 0)
}

// LastID returns the ID of the newest entry, or 0.
func (l *Log) LastID() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastID
}

// Subscribe replays entries after cursor and then delivers live entries
// on the returned Subscription until ctx ends or it is closed.
func (l *Log) Subscribe(ctx context.Context, cursor uint64) (*Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}
	backlog, err := l.store.Since(ctx, cursor, 0)
	if err != nil {
		return nil, fmt.Errorf("read backlog: %w", err)
	}

	l.nextSub++
	sub := newSubscription(l, l.nextSub, backlog)
	l.subs[sub.id] = sub
	go sub.pump(ctx)
	return sub, nil
}

func (l *Log) unsubscribe(id uint64) {
	l.mu.Lock()
	delete(l.subs, id)
	l.mu.Unlock()
}

// Close ends all subscriptions and closes the store.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	subs := make([]*Subscription, 0, len(l.subs))
	for _, s := range l.subs {
		subs = append(subs, s)
	}
	l.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	return l.store.Close()
}

// Subscription delivers entries in ID order on C. C is closed when the
// subscription ends.
type Subscription struct {
	C <-chan Entry

	id     uint64
	log    *Log
	out    chan Entry
	notify chan struct{}
	done   chan struct{}
	once   sync.Once

	mu    sync.Mutex
	queue []Entry
}

func newSubscription(l *Log, id uint64, backlog []Entry) *Subscription {
	out := make(chan Entry)
	return &Subscription{
		C:      out,
		id:     id,
		log:    l,
		out:    out,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		queue:  backlog,
	}
}

// enqueue never blocks; slow consumers accumulate a queue instead of
// stalling appenders.
func (s *Subscription) enqueue(e Entry) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump(ctx context.Context) {
	defer close(s.out)
	defer s.log.unsubscribe(s.id)

	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, e := range batch {
			select {
			case s.out <- e:
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

// Close ends the subscription.
func (s *Subscription) Close() {
	s.once.Do(func() { close(s.done) })
}
