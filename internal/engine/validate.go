package engine

import (
	"context"
	"errors"

	"vendorsync/internal/model"
)

// ValidationError is a draft rejection with an operator/buyer-facing message.
type ValidationError struct {
	Reason  string
	Message string
}

func (e *ValidationError) Error() string { return e.Reason + ": " + e.Message }

// ValidateDraft is the synchronous webhook fast path: it resolves the draft
// order's tenant context, fills in SKU/item mappings and prices the draft via
// a vendor preview. It mutates no Marketplace state and must stay cheap: it
// runs on the inbound request's own context.
func (e *Engine) ValidateDraft(ctx context.Context, o model.Order) (model.Order, error) {
	auth, reseller, err := e.dir.Resolve(o.AuthorizationUK, o.SellerUK)
	if err != nil {
		return o, &ValidationError{Reason: "unknown-context", Message: err.Error()}
	}

	for i := range o.Lines {
		line := &o.Lines[i]
		switch {
		case line.SKU == "" && line.ItemID != "":
			sku, err := e.maps.LookupByItem(ctx, line.ItemID)
			if err != nil {
				if errors.Is(err, model.ErrNotFound) {
					return o, &ValidationError{Reason: model.ReasonUnmappedSku, Message: "no vendor SKU for item " + line.ItemID}
				}
				return o, err
			}
			line.SKU = sku
		case line.ItemID == "" && line.SKU != "":
			itemID, err := e.maps.LookupBySKU(ctx, line.SKU)
			if err != nil {
				if errors.Is(err, model.ErrNotFound) {
					return o, &ValidationError{Reason: model.ReasonUnmappedSku, Message: "no item for vendor SKU " + line.SKU}
				}
				return o, err
			}
			line.ItemID = itemID
		case line.SKU == "" && line.ItemID == "":
			return o, &ValidationError{Reason: "empty-line", Message: "line has neither SKU nor item id"}
		}
	}

	if o.Type == model.OrderTypePurchase {
		if _, err := e.vnd.PreviewOrder(ctx, auth, reseller, o.ID, vendorOrderFromLines(&o)); err != nil {
			var vErr *model.VendorAPIError
			if errors.As(err, &vErr) && !vErr.Retryable {
				return o, &ValidationError{Reason: model.ReasonVendorRejected, Message: vErr.Message}
			}
			return o, err
		}
	}
	return o, nil
}
