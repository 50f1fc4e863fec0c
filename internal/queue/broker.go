package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Channel is the part of *amqp.Channel this package uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

// Connection is the part of *amqp.Connection this package uses.
type Connection interface {
	Channel() (Channel, error)
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

// ChannelSource hands out channels on a live connection.
type ChannelSource interface {
	Channel(ctx context.Context) (Channel, error)
}

// Dialer opens a connection to url.
type Dialer func(url string) (Connection, error)

type amqpConnection struct{ *amqp.Connection }

func (c amqpConnection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// DialAMQP is the production Dialer.
func DialAMQP(url string) (Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn}, nil
}

// ReconnectPolicy returns the wait before the given (1-based) attempt.
type ReconnectPolicy interface {
	Delay(attempt int) time.Duration
}

// FixedBackoff waits the same time before every attempt.
type FixedBackoff time.Duration

func (f FixedBackoff) Delay(int) time.Duration { return time.Duration(f) }

// ExponentialBackoff doubles the wait up to Max.
type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
}

func (e ExponentialBackoff) Delay(attempt int) time.Duration {
	d := e.Initial
	for i := 1; i < attempt && d < e.Max; i++ {
		d *= 2
	}
	if d > e.Max {
		d = e.Max
	}
	return d
}

// NewReconnectPolicy is fixed when max <= initial, exponential otherwise.
func NewReconnectPolicy(initial, max time.Duration) ReconnectPolicy {
	if max <= initial {
		return FixedBackoff(initial)
	}
	return ExponentialBackoff{Initial: initial, Max: max}
}

var (
	ErrBrokerClosed = errors.New("broker closed")
	// ErrBrokerUnavailable is returned by callers that will not wait for a
	// reconnect.
	ErrBrokerUnavailable = errors.New("broker unavailable")
)

// readiness is implemented by sources that can tell without blocking
// whether Channel would have to wait for a connection.
type readiness interface {
	Ready() bool
}

// channelNow opens a channel on source, failing with ErrBrokerUnavailable
// instead of waiting when the source reports no live connection.
func channelNow(ctx context.Context, source ChannelSource) (Channel, error) {
	if r, ok := source.(readiness); ok && !r.Ready() {
		return nil, ErrBrokerUnavailable
	}
	return source.Channel(ctx)
}

// Broker owns one AMQP connection.  Connect blocks until the broker is
// reachable; after that a watcher re-dials whenever the connection drops,
// and Channel waits for the connection to come back instead of failing.
type Broker struct {
	url    string
	dial   Dialer
	policy ReconnectPolicy
	log    *zap.Logger

	mu     sync.Mutex
	conn   Connection
	ready  chan struct{} // closed while conn is usable
	closed bool
	done   chan struct{}
}

// NewBroker returns an unconnected broker.  dial defaults to DialAMQP.
func NewBroker(url string, policy ReconnectPolicy, dial Dialer, log *zap.Logger) *Broker {
	if dial == nil {
		dial = DialAMQP
	}
	if policy == nil {
		policy = FixedBackoff(5 * time.Second)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Broker{
		url:    url,
		dial:   dial,
		policy: policy,
		log:    log.With(zap.String("component", "broker")),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Connect dials until it succeeds, ctx is cancelled or the broker is closed.
func (b *Broker) Connect(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return ErrBrokerClosed
		}
		b.mu.Unlock()

		conn, err := b.dial(b.url)
		if err == nil {
			b.install(conn)
			b.log.Info("connected", zap.Int("attempt", attempt))
			return nil
		}
		wait := b.policy.Delay(attempt)
		b.log.Warn("dial failed", zap.Error(err), zap.Int("attempt", attempt), zap.Duration("retry_in", wait))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return ErrBrokerClosed
		case <-time.After(wait):
		}
	}
}

func (b *Broker) install(conn Connection) {
	notify := conn.NotifyClose(make(chan *amqp.Error, 1))
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = conn.Close()
		return
	}
	b.conn = conn
	select {
	case <-b.ready:
	default:
		close(b.ready)
	}
	b.mu.Unlock()
	go b.watch(notify)
}

// watch waits for the connection to drop and dials a new one.
func (b *Broker) watch(notify chan *amqp.Error) {
	var cause *amqp.Error
	select {
	case cause = <-notify:
	case <-b.done:
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.conn = nil
	b.ready = make(chan struct{})
	b.mu.Unlock()

	fields := []zap.Field{}
	if cause != nil {
		fields = append(fields, zap.String("reason", cause.Reason), zap.Int("code", cause.Code))
	}
	b.log.Warn("connection lost, reconnecting", fields...)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-b.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	defer cancel()
	if err := b.Connect(ctx); err != nil && !errors.Is(err, ErrBrokerClosed) && !errors.Is(err, context.Canceled) {
		b.log.Error("reconnect aborted", zap.Error(err))
	}
}

// Ready reports whether a connection is up.
func (b *Broker) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil && !b.closed
}

// Channel opens a channel, waiting for a connection if none is up.
func (b *Broker) Channel(ctx context.Context) (Channel, error) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, ErrBrokerClosed
		}
		ready, conn := b.ready, b.conn
		b.mu.Unlock()

		if conn != nil {
			ch, err := conn.Channel()
			if err == nil {
				return ch, nil
			}
			if errors.Is(err, amqp.ErrClosed) {
				// the watcher will swap the connection; wait for it
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-b.done:
					return nil, ErrBrokerClosed
				case <-time.After(100 * time.Millisecond):
				}
				continue
			}
			return nil, err
		}
		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.done:
			return nil, ErrBrokerClosed
		}
	}
}

// Close stops reconnecting and closes the connection.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)
	if b.conn != nil {
		err := b.conn.Close()
		b.conn = nil
		return err
	}
	return nil
}
