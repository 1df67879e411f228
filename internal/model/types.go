package model

import "time"

// OrderStatus is the server-owned lifecycle status of an order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusAccepted  OrderStatus = "accepted"
	StatusPreparing OrderStatus = "preparing"
	StatusOnWay     OrderStatus = "on_way"
	StatusDelivered OrderStatus = "delivered"
	StatusCancelled OrderStatus = "cancelled"
)

// IsTerminal returns true for statuses that end an order's lifecycle.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// PaymentStatus is the server-owned payment state of an order.
type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

// Role identifies the kind of client authenticating on the push channel.
type Role string

const (
	RoleUser   Role = "user"
	RoleWorker Role = "worker"
	RoleAdmin  Role = "admin"
)

// OrderItem is a single line item on an order.
type OrderItem struct {
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	PriceCents int64  `json:"price_cents"`
}

// OrderSnapshot is an immutable, server-authoritative view of one order.
// Snapshots arrive via push events or polling and are never mutated in
// place; reconciliation always holds whole snapshots.
type OrderSnapshot struct {
	OrderID       string        `json:"order_id"`
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	WorkerID      string        `json:"delivery_boy_id,omitempty"` // empty until a worker is assigned
	Destination   *GeoPoint     `json:"destination,omitempty"`
	TotalCents    int64         `json:"total_cents"`
	Items         []OrderItem   `json:"items,omitempty"`
	CreatedTS     int64         `json:"created_ts"` // µs since epoch
	UpdatedTS     int64         `json:"updated_ts"` // µs since epoch
}

// Completed reports whether the order reached the delivered+paid state
// that triggers the one-shot completion signal.
func (s OrderSnapshot) Completed() bool {
	return s.Status == StatusDelivered && s.PaymentStatus == PaymentPaid
}

// LocationUpdate is one GPS fix for the worker assigned to an order.
// ReceivedAt is the client-local receive timestamp; only the update with
// the greatest ReceivedAt per (order, worker) pair is retained.
type LocationUpdate struct {
	OrderID    string
	WorkerID   string
	Latitude   float64
	Longitude  float64
	ReceivedAt time.Time
}

// Point returns the update's position as a GeoPoint.
func (u LocationUpdate) Point() GeoPoint {
	return GeoPoint{Lat: u.Latitude, Lng: u.Longitude}
}

// RouteSnapshot is a routed path between two rounded coordinate keys.
type RouteSnapshot struct {
	OriginKey       string
	DestinationKey  string
	Geometry        []GeoPoint
	DistanceMeters  float64
	DurationSeconds float64
	FetchedAt       time.Time
}

// Expired reports whether the snapshot is older than ttl at now.
func (r RouteSnapshot) Expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(r.FetchedAt) >= ttl
}

// ReconciledState is the only object consumers read: the merged view of one
// order. It is rebuilt whole on every applied ingest, never patched.
type ReconciledState struct {
	Order    OrderSnapshot
	Location *LocationUpdate
	Route    *RouteSnapshot

	// Revision increments on every applied ingest, letting consumers
	// detect missed notifications cheaply.
	Revision int64
}
