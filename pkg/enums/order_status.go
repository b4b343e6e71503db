package enums

// OrderStatus tracks an order through fulfillment. Transitions away from
// pending are administrative; the payment pipeline only ever creates pending
// orders.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) String() string {
	return string(s)
}

// CanTransitionTo reports whether the status machine allows moving from s to
// target: pending -> shipped -> delivered, and pending/shipped -> cancelled.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	switch s {
	case OrderStatusPending:
		return target == OrderStatusShipped || target == OrderStatusCancelled
	case OrderStatusShipped:
		return target == OrderStatusDelivered || target == OrderStatusCancelled
	default:
		return false
	}
}
