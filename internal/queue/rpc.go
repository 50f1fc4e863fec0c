package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/hotel-reservations/internal/model"
)

var ErrRPCTimeout = errors.New("rpc timeout")

type contactRequest struct {
	GuestID string `json:"guestId"`
}

type contactReply struct {
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
	Error       string `json:"error,omitempty"`
}

// ContactClient asks the guest service for contact details over the
// broker: request on a well known queue, reply on a private queue matched
// by correlation id.
type ContactClient struct {
	source         ChannelSource
	queue          string
	defaultTimeout time.Duration
}

func NewContactClient(source ChannelSource, requestQueue string, defaultTimeout time.Duration) *ContactClient {
	return &ContactClient{source: source, queue: requestQueue, defaultTimeout: defaultTimeout}
}

// GetContactDetails returns ErrRPCTimeout when no matching reply arrives
// within timeout (the client default when timeout <= 0).
func (c *ContactClient) GetContactDetails(ctx context.Context, guestID string, timeout time.Duration) (model.ContactDetails, error) {
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch, err := channelNow(ctx, c.source)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return model.ContactDetails{}, ErrRPCTimeout
		}
		return model.ContactDetails{}, fmt.Errorf("open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	replyQ, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return model.ContactDetails{}, fmt.Errorf("declare reply queue: %w", err)
	}
	replies, err := ch.Consume(replyQ.Name, "", true, true, false, false, nil)
	if err != nil {
		return model.ContactDetails{}, fmt.Errorf("consume reply queue: %w", err)
	}

	body, err := json.Marshal(contactRequest{GuestID: guestID})
	if err != nil {
		return model.ContactDetails{}, err
	}
	corrID := uuid.NewString()
	err = ch.PublishWithContext(ctx, "", c.queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: corrID,
		ReplyTo:       replyQ.Name,
		Expiration:    fmt.Sprintf("%d", timeout.Milliseconds()),
		Body:          body,
	})
	if err != nil {
		return model.ContactDetails{}, fmt.Errorf("publish request: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return model.ContactDetails{}, ErrRPCTimeout
			}
			return model.ContactDetails{}, ctx.Err()
		case d, ok := <-replies:
			if !ok {
				return model.ContactDetails{}, errors.New("reply queue closed")
			}
			if d.CorrelationId != corrID {
				continue
			}
			var rep contactReply
			if err := json.Unmarshal(d.Body, &rep); err != nil {
				return model.ContactDetails{}, fmt.Errorf("decode reply: %w", err)
			}
			if rep.Error != "" {
				return model.ContactDetails{}, fmt.Errorf("contact lookup: %s", rep.Error)
			}
			return model.ContactDetails{Email: rep.Email, PhoneNumber: rep.PhoneNumber}, nil
		}
	}
}
