package api

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/veloserve/tracksync/internal/model"
)

// orderResponse is the wire envelope for both order endpoints.
type orderResponse struct {
	Order apiOrder `json:"order"`
}

// apiOrder is the wire format of an order snapshot.
type apiOrder struct {
	OrderID       string          `json:"order_id"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"payment_status"`
	DeliveryBoyID string          `json:"delivery_boy_id"`
	Destination   *model.GeoPoint `json:"destination"`
	Total         int64           `json:"total"` // cents
	Items         []apiOrderItem  `json:"items"`
	CreatedAt     string          `json:"created_at"` // ISO 8601
	UpdatedAt     string          `json:"updated_at"` // ISO 8601
}

type apiOrderItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"` // cents
}

// ToModel converts the wire order to the internal snapshot type.
func (o apiOrder) ToModel() model.OrderSnapshot {
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
		CreatedTS:     ParseTimestamp(o.CreatedAt),
		UpdatedTS:     ParseTimestamp(o.UpdatedAt),
	}
}

// GetOrder fetches the authoritative snapshot for an order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (model.OrderSnapshot, error) {
	var resp orderResponse
	path := "/api/orders/" + url.PathEscape(orderID)
	if err := c.get(ctx, path, &resp); err != nil {
		return model.OrderSnapshot{}, fmt.Errorf("get order %s: %w", orderID, err)
	}
	return resp.Order.ToModel(), nil
}

// paymentRequest is the body for the cash-on-delivery confirmation PATCH.
type paymentRequest struct {
	PaymentStatus string `json:"payment_status"`
	TransactionID string `json:"transaction_id"`
}

// ConfirmPayment marks an order's payment state and returns the updated
// snapshot. A zero transactionID gets a generated one so the server can
// deduplicate retried confirmations.
func (c *Client) ConfirmPayment(ctx context.Context, orderID string, status model.PaymentStatus, transactionID string) (model.OrderSnapshot, error) {
	if transactionID == "" {
		transactionID = uuid.NewString()
	}

	var resp orderResponse
	path := "/api/orders/" + url.PathEscape(orderID) + "/payment"
	req := paymentRequest{
		PaymentStatus: string(status),
		TransactionID: transactionID,
	}
	if err := c.patch(ctx, path, req, &resp); err != nil {
		return model.OrderSnapshot{}, fmt.Errorf("confirm payment %s: %w", orderID, err)
	}
	return resp.Order.ToModel(), nil
}
