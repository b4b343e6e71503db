package enums

// DeliveryMethod is the human-readable code resolved from the shipping rate
// the buyer picked on the payment page.
type DeliveryMethod string

const (
	DeliveryMethodMondialRelay DeliveryMethod = "mondial_relay"
	DeliveryMethodColissimo    DeliveryMethod = "colissimo"
)

func (d DeliveryMethod) String() string {
	return string(d)
}

// RequiresRelay reports whether the method needs a pickup point assigned
// before the order can ship.
func (d DeliveryMethod) RequiresRelay() bool {
	return d == DeliveryMethodMondialRelay
}
