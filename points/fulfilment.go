package points

import "strings"

// Fulfilment is the per-type detail of a redemption. Exactly one of
// VoucherFulfilment, DeliveryFulfilment or PickupFulfilment.
type Fulfilment interface {
	Type() FulfilmentType
	isFulfilment()
}

// VoucherFulfilment carries the generated voucher code.
type VoucherFulfilment struct {
	Code string
}

func (VoucherFulfilment) Type() FulfilmentType { return FulfilmentVoucher }
func (VoucherFulfilment) isFulfilment()        {}

// DeliveryFulfilment is the shipping destination of a delivery reward.
// Build it with NewDeliveryFulfilment so the required fields are checked.
type DeliveryFulfilment struct {
	RecipientName  string
	RecipientPhone string
	AddressLine1   string
	AddressLine2   string
	PostalCode     string
}

func (DeliveryFulfilment) Type() FulfilmentType { return FulfilmentDelivery }
func (DeliveryFulfilment) isFulfilment()        {}

// PickupFulfilment records where the reward is collected.
type PickupFulfilment struct {
	Location string
}

func (PickupFulfilment) Type() FulfilmentType { return FulfilmentPickup }
func (PickupFulfilment) isFulfilment()        {}

// DeliveryDetails is the unvalidated delivery input of a redemption request.
type DeliveryDetails struct {
	RecipientName  string
	RecipientPhone string
	AddressLine1   string
	AddressLine2   string
	PostalCode     string
}

// NewDeliveryFulfilment validates d. Name, phone, first address line and
// postal code are required; the second address line is optional.
func NewDeliveryFulfilment(d *DeliveryDetails) (DeliveryFulfilment, error) {
	if d == nil {
		return DeliveryFulfilment{}, ErrDeliveryFieldsMissing
	}
	f := DeliveryFulfilment{
		RecipientName:  strings.TrimSpace(d.RecipientName),
		RecipientPhone: strings.TrimSpace(d.RecipientPhone),
		AddressLine1:   strings.TrimSpace(d.AddressLine1),
		AddressLine2:   strings.TrimSpace(d.AddressLine2),
		PostalCode:     strings.TrimSpace(d.PostalCode),
	}
	if f.RecipientName == "" || f.RecipientPhone == "" || f.AddressLine1 == "" || f.PostalCode == "" {
		return DeliveryFulfilment{}, ErrDeliveryFieldsMissing
	}
	return f, nil
}
