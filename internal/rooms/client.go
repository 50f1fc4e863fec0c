// Package rooms talks to the room inventory service.
package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/iliyamo/hotel-reservations/internal/model"
)

var ErrRoomNotFound = errors.New("room not found")

// Client looks rooms up over HTTP.
type Client struct {
	base string
	http *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// roomResponse accepts the inventory payload either bare or wrapped in the
// usual {success, data} envelope.  price is in major units.
type roomResponse struct {
	ID        json.RawMessage `json:"id"`
	Price     float64         `json:"price"`
	Currency  string          `json:"currency"`
	Available *bool           `json:"available"`
	Data      *roomResponse   `json:"data"`
}

// EnsureRoomExists returns the room's rate and availability flag, or
// ErrRoomNotFound.  Any other failure means the inventory service could
// not answer.
func (c *Client) EnsureRoomExists(ctx context.Context, roomID string) (model.Room, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/rooms/"+url.PathEscape(roomID), nil)
	if err != nil {
		return model.Room{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return model.Room{}, fmt.Errorf("rooms service: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return model.Room{}, ErrRoomNotFound
	case resp.StatusCode >= 300:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return model.Room{}, fmt.Errorf("rooms service: unexpected status %d", resp.StatusCode)
	}

	var body roomResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return model.Room{}, fmt.Errorf("rooms service: decode: %w", err)
	}
	if body.Data != nil {
		body = *body.Data
	}
	if body.Price < 0 {
		return model.Room{}, fmt.Errorf("rooms service: negative price for room %s", roomID)
	}
	room := model.Room{
		ID:         roomID,
		PriceCents: int64(math.Round(body.Price * 100)),
		Currency:   strings.ToUpper(body.Currency),
		Available:  body.Available == nil || *body.Available,
	}
	return room, nil
}
