package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/veloserve/tracksync/internal/model"
)

// Push-channel topics consumed by the router.
const (
	TopicAuthenticated   = "authenticated"
	TopicOrderUpdated    = "order:updated"
	TopicStatusUpdated   = "order:status_updated"
	TopicLocationUpdated = "delivery:location_updated"
)

// ErrUnknownTopic is returned by Decode for envelopes outside the closed
// event set.
var ErrUnknownTopic = errors.New("unknown topic")

// Event is one decoded push-channel event.
type Event interface {
	// Topic returns the wire topic the event arrived on.
	Topic() string
}

// Authenticated is the handshake acknowledgment.
type Authenticated struct {
	Identity   string
	Role       model.Role
	ReceivedAt time.Time
}

func (Authenticated) Topic() string { return TopicAuthenticated }

// OrderUpdated carries a full order snapshot.
type OrderUpdated struct {
	OrderID    string
	Order      model.OrderSnapshot
	ReceivedAt time.Time
}

func (OrderUpdated) Topic() string { return TopicOrderUpdated }

// StatusUpdated carries a bare status transition for an order.
type StatusUpdated struct {
	OrderID    string
	Status     model.OrderStatus
	ReceivedAt time.Time
}

func (StatusUpdated) Topic() string { return TopicStatusUpdated }

// LocationUpdated carries one GPS fix for the worker on an order.
type LocationUpdated struct {
	OrderID    string
	WorkerID   string
	Latitude   float64
	Longitude  float64
	ReceivedAt time.Time
}

func (LocationUpdated) Topic() string { return TopicLocationUpdated }

// Update converts the event to a model.LocationUpdate.
func (e LocationUpdated) Update() model.LocationUpdate {
	return model.LocationUpdate{
		OrderID:    e.OrderID,
		WorkerID:   e.WorkerID,
		Latitude:   e.Latitude,
		Longitude:  e.Longitude,
		ReceivedAt: e.ReceivedAt,
	}
}

// Wire types for JSON parsing

// envelope is the outer wire format of every push-channel message.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type authenticatedWire struct {
	Identity string `json:"identity"`
	Role     string `json:"role"`
}

type orderUpdatedWire struct {
	OrderID string    `json:"order_id"`
	Order   orderWire `json:"order"`
}

type statusUpdatedWire struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type locationUpdatedWire struct {
	OrderID       string  `json:"order_id"`
	DeliveryBoyID string  `json:"delivery_boy_id"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
}

// orderWire is the push-channel order shape. It matches the pull channel's
// order payload so both transports produce identical snapshots.
type orderWire struct {
	OrderID       string          `json:"order_id"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"payment_status"`
	DeliveryBoyID string          `json:"delivery_boy_id"`
	Destination   *model.GeoPoint `json:"destination"`
	Total         int64           `json:"total"`
	Items         []orderItemWire `json:"items"`
	CreatedTS     int64           `json:"created_ts"` // µs since epoch
	UpdatedTS     int64           `json:"updated_ts"` // µs since epoch
}

type orderItemWire struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

func (o orderWire) toModel() model.OrderSnapshot {
	items := make([]model.OrderItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, model.OrderItem{
			Name:       it.Name,
			Quantity:   it.Quantity,
			PriceCents: it.Price,
		})
	}
	return model.OrderSnapshot{
		OrderID:       o.OrderID,
		Status:        model.OrderStatus(o.Status),
		PaymentStatus: model.PaymentStatus(o.PaymentStatus),
		WorkerID:      o.DeliveryBoyID,
		Destination:   o.Destination,
		TotalCents:    o.Total,
		Items:         items,
		CreatedTS:     o.CreatedTS,
		UpdatedTS:     o.UpdatedTS,
	}
}

// Decode parses a raw push-channel message into its typed event variant.
// receivedAt is the client-local timestamp captured at the read boundary.
func Decode(data []byte, receivedAt time.Time) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Event {
	case TopicAuthenticated:
		var wire authenticatedWire
		if err := json.Unmarshal(env.Data, &wire); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return Authenticated{
			Identity:   wire.Identity,
			Role:       model.Role(wire.Role),
			ReceivedAt: receivedAt,
		}, nil

	case TopicOrderUpdated:
		var wire orderUpdatedWire
		if err := json.Unmarshal(env.Data, &wire); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		order := wire.Order.toModel()
		if order.OrderID == "" {
			order.OrderID = wire.OrderID
		}
		return OrderUpdated{
			OrderID:    wire.OrderID,
			Order:      order,
			ReceivedAt: receivedAt,
		}, nil

	case TopicStatusUpdated:
		var wire statusUpdatedWire
		if err := json.Unmarshal(env.Data, &wire); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return StatusUpdated{
			OrderID:    wire.OrderID,
			Status:     model.OrderStatus(wire.Status),
			ReceivedAt: receivedAt,
		}, nil

	case TopicLocationUpdated:
		var wire locationUpdatedWire
		if err := json.Unmarshal(env.Data, &wire); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return LocationUpdated{
			OrderID:    wire.OrderID,
			WorkerID:   wire.DeliveryBoyID,
			Latitude:   wire.Latitude,
			Longitude:  wire.Longitude,
			ReceivedAt: receivedAt,
		}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownTopic, env.Event)
}
