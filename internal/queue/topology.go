package queue

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeReservations = "reservations.events"
	ExchangePayments     = "payments.events"
	ExchangeBilling      = "billing.events"
	ExchangeDeadLetter   = "hotel.dlx"

	QueueReservationPayments = "reservations.payment-events"
	QueueBillingPayments     = "billing.payment-events"
)

// Binding is one durable consumer queue and the routing patterns it takes
// from Exchange.
type Binding struct {
	Queue    string
	Exchange string
	Keys     []string
}

// DeadLetterQueue names the queue that receives rejected messages of q.
func DeadLetterQueue(q string) string { return q + ".dead" }

// Topology lists what a process declares on every (re)connect.
type Topology struct {
	Exchanges []string
	Bindings  []Binding
}

// ReservationTopology is declared by the reservation service.
var ReservationTopology = Topology{
	Exchanges: []string{ExchangeReservations, ExchangePayments},
	Bindings: []Binding{
		{Queue: QueueReservationPayments, Exchange: ExchangePayments, Keys: []string{"payment.*"}},
	},
}

// BillingTopology is declared by the billing service.
var BillingTopology = Topology{
	Exchanges: []string{ExchangePayments, ExchangeBilling},
	Bindings: []Binding{
		{Queue: QueueBillingPayments, Exchange: ExchangePayments, Keys: []string{"payment.*"}},
	},
}

// Declare creates the exchanges, the dead-letter exchange and every bound
// queue with its dead-letter companion.  All declarations are idempotent.
func (t Topology) Declare(ch Channel) error {
	for _, ex := range t.Exchanges {
		if err := ch.ExchangeDeclare(ex, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex, err)
		}
	}
	if len(t.Bindings) == 0 {
		return nil
	}
	if err := ch.ExchangeDeclare(ExchangeDeadLetter, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", ExchangeDeadLetter, err)
	}
	for _, b := range t.Bindings {
		dlq := DeadLetterQueue(b.Queue)
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", dlq, err)
		}
		if err := ch.QueueBind(dlq, b.Queue, ExchangeDeadLetter, false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", dlq, err)
		}
		args := amqp.Table{
			"x-dead-letter-exchange":    ExchangeDeadLetter,
			"x-dead-letter-routing-key": b.Queue,
		}
		if _, err := ch.QueueDeclare(b.Queue, true, false, false, false, args); err != nil {
			return fmt.Errorf("declare queue %s: %w", b.Queue, err)
		}
		for _, key := range b.Keys {
			if err := ch.QueueBind(b.Queue, key, b.Exchange, false, nil); err != nil {
				return fmt.Errorf("bind %s to %s/%s: %w", b.Queue, b.Exchange, key, err)
			}
		}
	}
	return nil
}
