// Package bus implements the message-bus consumer registry of spec §4.3: an
// exchange/routing_key/queue-bound publish/subscribe layer with per-binding
// timeouts and at-least-once delivery. No RabbitMQ/Kafka/NATS client appears
// anywhere in the example pack this repository was grounded on, so bindings
// are modeled as rows in the BusMessage Postgres table, polled the same way
// tarsy's queue package polls AlertSession rows with `FOR UPDATE SKIP
// LOCKED` (Worker.pollAndProcess/claimNextSession), with a
// detectAndRecoverOrphans-style sweep redelivering stale claims and a
// dedicated LISTEN/NOTIFY connection (grounded in pkg/events.NotifyListener,
// simplified to one channel per queue) waking pollers faster than their poll
// interval.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5"

	"github.com/codeready-toolchain/skilllearn/ent"
	"github.com/codeready-toolchain/skilllearn/ent/busmessage"
)

// Binding identifies one exchange/routing_key/queue triple (spec §4.3, §6).
type Binding struct {
	Exchange   string
	RoutingKey string
	Queue      string
}

func (b Binding) channel() string {
	return "bus_" + b.Queue
}

// Delivery is the handle passed to a Handler: the parsed body plus Ack/Nack.
type Delivery struct {
	Body []byte

	row *ent.BusMessage
	reg *ConsumerRegistry
}

// Ack marks the delivery done: exactly-once handler invocation per
// successful ack (spec §4.3).
func (d *Delivery) Ack(ctx context.Context) error {
	return d.reg.client.BusMessage.UpdateOneID(d.row.ID).
		SetStatus(busmessage.StatusDone).
		Exec(ctx)
}

// Nack resets the row to pending immediately instead of waiting for the
// timeout sweep (spec §4.3 "explicit nack").
func (d *Delivery) Nack(ctx context.Context) error {
	return d.reg.client.BusMessage.UpdateOneID(d.row.ID).
		SetStatus(busmessage.StatusPending).
		ClearClaimedBy().
		ClearClaimedAt().
		ClearVisibleAt().
		Exec(ctx)
}

// Handler processes one delivery. Returning an error is equivalent to Nack
// after logging; a handler that wants to ack as part of its own transaction
// should call delivery.Ack itself and return nil.
type Handler func(ctx context.Context, d *Delivery) error

type binding struct {
	Binding
	handler Handler
	timeout time.Duration
}

// ConsumerRegistry binds typed handlers to (exchange, routing_key, queue)
// and polls the BusMessage table for each binding (spec §4.3).
type ConsumerRegistry struct {
	client       *ent.Client
	connString   string
	consumerID   string
	pollInterval time.Duration
	pollJitter   time.Duration
	sweepEvery   time.Duration

	mu       sync.Mutex
	bindings []binding
	wakers   map[string]chan struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Options configures a registry.
type Options struct {
	ConsumerID   string
	PollInterval time.Duration
	PollJitter   time.Duration
	SweepEvery   time.Duration
}

// New builds a registry. connString is used to open a dedicated LISTEN
// connection for wakeups; an empty connString disables the wakeup path and
// pollers rely on PollInterval alone.
func New(client *ent.Client, connString string, opts Options) *ConsumerRegistry {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.SweepEvery <= 0 {
		opts.SweepEvery = 30 * time.Second
	}
	return &ConsumerRegistry{
		client:       client,
		connString:   connString,
		consumerID:   opts.ConsumerID,
		pollInterval: opts.PollInterval,
		pollJitter:   opts.PollJitter,
		sweepEvery:   opts.SweepEvery,
		stopCh:       make(chan struct{}),
	}
}

// Register binds a handler to one (exchange, routing_key, queue). timeout
// bounds how long a claimed-but-unacked row may stay claimed before the
// sweep redelivers it (spec §4.5's consumer timeout).
func (r *ConsumerRegistry) Register(b Binding, timeout time.Duration, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings = append(r.bindings, binding{Binding: b, handler: h, timeout: timeout})
}

// Publish inserts a pending BusMessage row and wakes pollers of its queue
// via pg_notify, so they do not wait a full poll interval (spec §4.3).
func (r *ConsumerRegistry) Publish(ctx context.Context, exchange, routingKey, queue string, body []byte) error {
	_, err := r.client.BusMessage.Create().
		SetID(newID()).
		SetExchange(exchange).
		SetRoutingKey(routingKey).
		SetQueue(queue).
		SetBody(string(body)).
		Save(ctx)
	if err != nil {
		return fmt.Errorf("bus: publish to %s/%s: %w", exchange, routingKey, err)
	}

	if r.connString != "" {
		if err := r.notify(ctx, "bus_"+queue); err != nil {
			slog.Warn("bus: notify failed, pollers fall back to interval", "queue", queue, "error", err)
		}
	}
	return nil
}

func (r *ConsumerRegistry) notify(ctx context.Context, channel string) error {
	conn, err := pgx.Connect(ctx, r.connString)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(ctx) }()
	_, err = conn.Exec(ctx, "SELECT pg_notify($1, $2)", channel, "")
	return err
}

// Start launches one polling goroutine per registered binding plus a shared
// orphan sweep, and (if connString is set) a wakeup listener.
func (r *ConsumerRegistry) Start(ctx context.Context) {
	r.mu.Lock()
	bindings := append([]binding(nil), r.bindings...)
	r.mu.Unlock()

	for _, b := range bindings {
		r.wg.Add(1)
		go r.pollLoop(ctx, b)
	}

	r.wg.Add(1)
	go r.sweepLoop(ctx)

	if r.connString != "" {
		r.wg.Add(1)
		go r.listenLoop(ctx, bindings)
	}
}

// Stop signals every goroutine to stop and waits for them to finish.
func (r *ConsumerRegistry) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *ConsumerRegistry) pollLoop(ctx context.Context, b binding) {
	defer r.wg.Done()
	log := slog.With("queue", b.Queue)

	wake := make(chan struct{}, 1)
	r.mu.Lock()
	if r.wakers == nil {
		r.wakers = map[string]chan struct{}{}
	}
	r.wakers[b.Queue] = wake
	r.mu.Unlock()

	for {
		processed, err := r.pollOnce(ctx, b)
		if err != nil {
			log.Error("bus: poll failed", "error", err)
		}
		if processed {
			continue // drain the queue before sleeping
		}
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-wake:
		case <-time.After(r.jitteredInterval()):
		}
	}
}

// pollOnce claims and processes at most one row for binding b. Returns true
// if a row was claimed (caller should poll again immediately).
func (r *ConsumerRegistry) pollOnce(ctx context.Context, b binding) (bool, error) {
	row, err := r.claimNext(ctx, b)
	if err != nil {
		return false, err
	}
	if row == nil {
		return false, nil
	}

	d := &Delivery{Body: []byte(row.Body), row: row, reg: r}
	if err := b.handler(ctx, d); err != nil {
		slog.Error("bus: handler failed, nacking", "queue", b.Queue, "error", err)
		if nackErr := d.Nack(context.Background()); nackErr != nil {
			slog.Error("bus: nack failed", "queue", b.Queue, "error", nackErr)
		}
	}
	return true, nil
}

// claimNext atomically claims the oldest pending row for a binding using
// FOR UPDATE SKIP LOCKED, grounded in Worker.claimNextSession.
func (r *ConsumerRegistry) claimNext(ctx context.Context, b binding) (*ent.BusMessage, error) {
	tx, err := r.client.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("bus: begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row, err := tx.BusMessage.Query().
		Where(
			busmessage.ExchangeEQ(b.Exchange),
			busmessage.RoutingKeyEQ(b.RoutingKey),
			busmessage.QueueEQ(b.Queue),
			busmessage.StatusEQ(busmessage.StatusPending),
		).
		Order(ent.Asc(busmessage.FieldCreatedAt)).
		Limit(1).
		ForUpdate(entsql.WithLockAction(entsql.SkipLocked)).
		First(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("bus: query pending %s: %w", b.Queue, err)
	}

	now := time.Now()
	var visibleAt *time.Time
	if b.timeout > 0 {
		v := now.Add(b.timeout)
		visibleAt = &v
	}
	update := tx.BusMessage.UpdateOneID(row.ID).
		SetStatus(busmessage.StatusClaimed).
		SetClaimedBy(r.consumerID).
		SetClaimedAt(now)
	if visibleAt != nil {
		update = update.SetVisibleAt(*visibleAt)
	}
	row, err = update.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("bus: claim %s: %w", b.Queue, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("bus: commit claim %s: %w", b.Queue, err)
	}
	return row, nil
}

// sweepLoop periodically redelivers claims whose visible_at has passed
// (spec §4.3's "redelivery on timeout"), grounded in
// detectAndRecoverOrphans.
func (r *ConsumerRegistry) sweepLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.sweepOnce(ctx); err != nil {
				slog.Error("bus: sweep failed", "error", err)
			}
		}
	}
}

func (r *ConsumerRegistry) sweepOnce(ctx context.Context) error {
	n, err := r.client.BusMessage.Update().
		Where(
			busmessage.StatusEQ(busmessage.StatusClaimed),
			busmessage.VisibleAtNotNil(),
			busmessage.VisibleAtLT(time.Now()),
		).
		SetStatus(busmessage.StatusPending).
		ClearClaimedBy().
		ClearClaimedAt().
		ClearVisibleAt().
		Save(ctx)
	if err != nil {
		return fmt.Errorf("bus: sweep: %w", err)
	}
	if n > 0 {
		slog.Warn("bus: redelivered stale claims", "count", n)
	}
	return nil
}

// listenLoop holds a dedicated LISTEN connection and wakes the matching
// poller on NOTIFY, reconnecting with backoff on failure. A simplified
// sibling of pkg/events.NotifyListener: one connection, fixed channel set
// (no dynamic subscribe/unsubscribe is needed — the binding set is static
// for the process lifetime).
func (r *ConsumerRegistry) listenLoop(ctx context.Context, bindings []binding) {
	defer r.wg.Done()

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := r.listenOnce(ctx, bindings); err != nil {
			slog.Error("bus: listen connection failed, reconnecting", "error", err, "backoff", backoff)
			select {
			case <-r.stopCh:
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
	}
}

func (r *ConsumerRegistry) listenOnce(ctx context.Context, bindings []binding) error {
	conn, err := pgx.Connect(ctx, r.connString)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(ctx) }()

	for _, b := range bindings {
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{b.channel()}.Sanitize()); err != nil {
			return fmt.Errorf("listen %s: %w", b.channel(), err)
		}
	}

	for {
		notif, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		queue := notif.Channel[len("bus_"):]
		r.mu.Lock()
		wake := r.wakers[queue]
		r.mu.Unlock()
		if wake != nil {
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}
}

func (r *ConsumerRegistry) jitteredInterval() time.Duration {
	if r.pollJitter <= 0 {
		return r.pollInterval
	}
	offset := time.Duration(rand.Int64N(int64(2 * r.pollJitter)))
	return r.pollInterval - r.pollJitter + offset
}

func newID() string {
	return fmt.Sprintf("bm-%d-%d", time.Now().UnixNano(), rand.Int64())
}
