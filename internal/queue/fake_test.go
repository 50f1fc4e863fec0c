package queue

import (
	"context"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

type declaredQueue struct {
	name string
	args amqp.Table
}

type binding struct{ queue, key, exchange string }

type fakeChannel struct {
	mu         sync.Mutex
	exchanges  []string
	queues     []declaredQueue
	bindings   []binding
	published  []amqp.Publishing
	keys       []string
	deliveries chan amqp.Delivery
	publishErr error
	onPublish  func(msg amqp.Publishing)
	closed     bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 16)}
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges = append(f.exchanges, name)
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == "" {
		name = "amq.gen-reply"
	}
	f.queues = append(f.queues, declaredQueue{name: name, args: args})
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bindings = append(f.bindings, binding{name, key, exchange})
	return nil
}

func (f *fakeChannel) Qos(int, int, bool) error { return nil }

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	if f.publishErr != nil {
		err := f.publishErr
		f.mu.Unlock()
		return err
	}
	f.published = append(f.published, msg)
	f.keys = append(f.keys, exchange+"/"+key)
	hook := f.onPublish
	f.mu.Unlock()
	if hook != nil {
		hook(msg)
	}
	return nil
}

func (f *fakeChannel) NotifyClose(c chan *amqp.Error) chan *amqp.Error { return c }

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// staticSource hands out the same channel, or err.
type staticSource struct {
	mu    sync.Mutex
	ch    Channel
	err   error
	opens int
}

func (s *staticSource) Channel(ctx context.Context) (Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if s.err != nil {
		return nil, s.err
	}
	return s.ch, nil
}

// recordingAck captures the outcome of deliveries.
type recordingAck struct {
	mu     sync.Mutex
	acked  []uint64
	nacked []uint64
	done   chan struct{}
	want   int
}

func newRecordingAck(want int) *recordingAck {
	return &recordingAck{done: make(chan struct{}), want: want}
}

func (r *recordingAck) record(list *[]uint64, tag uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*list = append(*list, tag)
	if len(r.acked)+len(r.nacked) == r.want {
		close(r.done)
	}
}

func (r *recordingAck) Ack(tag uint64, multiple bool) error {
	r.record(&r.acked, tag)
	return nil
}

func (r *recordingAck) Nack(tag uint64, multiple, requeue bool) error {
	if requeue {
		return errors.New("unexpected requeue")
	}
	r.record(&r.nacked, tag)
	return nil
}

func (r *recordingAck) Reject(tag uint64, requeue bool) error { return r.Nack(tag, false, requeue) }

// fakeConn lets tests drop the connection.
type fakeConn struct {
	mu     sync.Mutex
	notify chan *amqp.Error
	ch     *fakeChannel
	closed bool
}

func (c *fakeConn) Channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}
	return c.ch, nil
}

func (c *fakeConn) NotifyClose(n chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = n
	return n
}

func (c *fakeConn) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.notify <- &amqp.Error{Code: 320, Reason: "CONNECTION_FORCED"}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
