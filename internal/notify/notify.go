// Package notify implements the pub/sub notifier of spec.md §4.4: a
// ref-counted fan-out over Postgres LISTEN/NOTIFY, grounded on the
// teacher's internal/event in-process bus but rebuilt on top of a real
// database channel so any worker or API process can publish and any
// subscriber, anywhere, receives the notification.
package notify

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caesium-cloud/pipeline/internal/metrics"
	"github.com/caesium-cloud/pipeline/pkg/log"
)

// Event is the payload carried over a run's notification channel.
type Event struct {
	RunID    uuid.UUID `json:"run_id"`
	PRTaskID uuid.UUID `json:"pr_task_id"`
	Status   string    `json:"status"`
}

// RunChannel derives the Postgres channel name for a run's
// notifications. Postgres identifiers can't contain hyphens, so the
// UUID's dashes are stripped.
func RunChannel(runID uuid.UUID) string {
	return "pipeline_run_" + strings.ReplaceAll(runID.String(), "-", "")
}

// Publisher publishes an Event on a channel. Implementations log and
// swallow publish errors: a dropped notification degrades a connected
// client's liveness view, it never affects the authoritative state the
// database already committed.
type Publisher interface {
	Publish(ctx context.Context, channel string, event Event)
}

// Notifier is a Publisher and subscription source backed by a single
// dedicated LISTEN connection, acquired lazily on the first subscriber
// and released once the last unsubscribes.
type Notifier struct {
	pool *pgxpool.Pool

	mu     sync.Mutex
	subs   map[string]map[chan Event]struct{}
	listen *pgxpool.Conn
	cancel context.CancelFunc
}

// New builds a Notifier over pool. pool is also used for NOTIFY
// publishes; the dedicated LISTEN connection is acquired separately so
// publishing never contends with the listener's idle-in-transaction
// state.
func New(pool *pgxpool.Pool) *Notifier {
	return &Notifier{pool: pool, subs: make(map[string]map[chan Event]struct{})}
}

// Publish sends event on channel via pg_notify, so any process
// LISTENing on it (including this one) receives it.
func (n *Notifier) Publish(ctx context.Context, channel string, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error("failed to marshal notification payload", "channel", channel, "error", err)
		return
	}

	if _, err := n.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, string(payload)); err != nil {
		log.Error("failed to publish notification", "channel", channel, "error", err)
	}
}

// Subscribe returns a channel of Events published on channel. The
// returned channel is closed when ctx is done or Unsubscribe-equivalent
// cleanup runs; callers must drain it to avoid leaking the internal
// buffer.
func (n *Notifier) Subscribe(ctx context.Context, channel string) (<-chan Event, error) {
	n.mu.Lock()

	if n.subs[channel] == nil {
		n.subs[channel] = make(map[chan Event]struct{})
	}
	ch := make(chan Event, 32)
	n.subs[channel][ch] = struct{}{}

	isFirst := len(n.subs[channel]) == 1
	var startErr error
	if isFirst {
		startErr = n.startListeningLocked(channel)
	}
	if startErr != nil {
		delete(n.subs[channel], ch)
		if len(n.subs[channel]) == 0 {
			delete(n.subs, channel)
		}
		n.mu.Unlock()
		return nil, startErr
	}

	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.unsubscribe(channel, ch)
	}()

	return ch, nil
}

// startListeningLocked acquires the dedicated listen connection (if
// not already held) and issues LISTEN for channel. Callers must hold n.mu.
func (n *Notifier) startListeningLocked(channel string) error {
	if n.listen == nil {
		conn, err := n.pool.Acquire(context.Background())
		if err != nil {
			return err
		}
		n.listen = conn

		listenCtx, cancel := context.WithCancel(context.Background())
		n.cancel = cancel
		go n.listenLoop(listenCtx)
	}

	_, err := n.listen.Exec(context.Background(), "LISTEN "+pgx.Identifier{channel}.Sanitize())
	return err
}

func (n *Notifier) unsubscribe(channel string, ch chan Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	subs, ok := n.subs[channel]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)

	if len(subs) > 0 {
		return
	}
	delete(n.subs, channel)

	if n.listen != nil {
		if _, err := n.listen.Exec(context.Background(), "UNLISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
			log.Error("failed to unlisten", "channel", channel, "error", err)
		}
	}

	if len(n.subs) == 0 && n.listen != nil {
		n.cancel()
		n.listen.Release()
		n.listen = nil
		n.cancel = nil
	}
}

func (n *Notifier) listenLoop(ctx context.Context) {
	for {
		notification, err := n.listen.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("listen connection error", "error", err)
			return
		}

		var event Event
		if err := json.Unmarshal([]byte(notification.Payload), &event); err != nil {
			log.Error("failed to unmarshal notification payload", "channel", notification.Channel, "error", err)
			continue
		}

		n.mu.Lock()
		subs := n.subs[notification.Channel]
		targets := make([]chan Event, 0, len(subs))
		for ch := range subs {
			targets = append(targets, ch)
		}
		n.mu.Unlock()

		for _, ch := range targets {
			select {
			case ch <- event:
			default:
				// Slow subscriber; drop rather than block the listener.
			}
		}

		metrics.NotifyEventsTotal.WithLabelValues(notification.Channel).Inc()
	}
}

// Close releases the dedicated listen connection, if one is held.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.cancel != nil {
		n.cancel()
	}
	if n.listen != nil {
		n.listen.Release()
		n.listen = nil
	}
	n.subs = make(map[string]map[chan Event]struct{})
}
