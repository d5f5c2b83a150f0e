package engine

import (
	"context"

	"go.uber.org/zap"

	"vendorsync/internal/model"
	"vendorsync/internal/vendor"
)

// dispatchPurchase provisions a NEW vendor order for the Marketplace order.
// The Marketplace order id is the idempotency key: before creating anything
// we probe for subscriptions already tagged with it, so a crash between
// "vendor succeeded" and "status written back" never creates a duplicate.
func (e *Engine) dispatchPurchase(ctx context.Context, o *model.Order, auth model.Authorization, reseller model.Reseller) error {
	subs, err := e.vnd.ListSubscriptionsByExternalID(ctx, auth, reseller, o.ID)
	if err != nil {
		return err
	}
	if len(subs) > 0 {
		e.log.Info("adopting existing vendor subscriptions",
			zap.String("order_id", o.ID), zap.Int("count", len(subs)))
		e.adoptSubscriptions(o, subs)
		return e.attachAndComplete(ctx, o)
	}

	if o.VendorOrderID != "" {
		// A vendor order was created in an earlier cycle; follow it up
		// instead of creating another.
		vo, err := e.vnd.GetOrder(ctx, auth, reseller, o.ID, o.VendorOrderID)
		if err != nil {
			return err
		}
		return e.settleVendorOrder(ctx, o, vo)
	}

	req := vendorOrderFromLines(o)
	if _, err := e.vnd.PreviewOrder(ctx, auth, reseller, o.ID, req); err != nil {
		return err
	}
	vo, err := e.vnd.CreateOrder(ctx, auth, reseller, o.ID, req)
	if err != nil {
		return err
	}
	o.VendorOrderID = vo.OrderID
	// Persist the vendor order id before settling. If this write is lost the
	// probe above still prevents double-provisioning.
	if err := e.mkt.UpdateOrder(ctx, o.ID, map[string]any{
		"externalIds": map[string]string{"vendor": vo.OrderID},
	}); err != nil {
		e.log.Warn("failed to persist vendor order id",
			zap.String("order_id", o.ID), zap.Error(err))
	}
	return e.settleVendorOrder(ctx, o, vo)
}

// settleVendorOrder maps a vendor order status onto the order state machine.
func (e *Engine) settleVendorOrder(ctx context.Context, o *model.Order, vo vendor.Order) error {
	switch {
	case vo.Status == vendor.StatusProcessed:
		for _, li := range vo.LineItems {
			setLineSubscription(o, li.OfferID, li.SubscriptionID)
		}
		return e.attachAndComplete(ctx, o)
	case vo.Status == vendor.StatusPending:
		// Still provisioning on the vendor side; check again next cycle.
		return nil
	case vendor.Unrecoverable(vo.Status):
		return &model.VendorAPIError{Code: vo.Status, Message: vendor.StatusDescription(vo.Status), Retryable: false}
	default:
		// Unknown status: leave the order in flight and let an operator or a
		// later vendor transition sort it out.
		e.log.Warn("vendor order in unexpected status",
			zap.String("order_id", o.ID), zap.String("vendor_status", vo.Status))
		return nil
	}
}

// dispatchChange applies quantity updates to the subscriptions the order's
// lines reference.
func (e *Engine) dispatchChange(ctx context.Context, o *model.Order, auth model.Authorization, reseller model.Reseller) error {
	for _, line := range o.Lines {
		if line.SubscriptionID == "" {
			return &model.VendorAPIError{Message: "change order line without subscription: " + line.SKU, Retryable: false}
		}
		_, err := e.vnd.UpdateSubscription(ctx, auth, reseller, o.ID, line.SubscriptionID,
			vendor.AutoRenewal{Enabled: true, RenewalQuantity: line.Quantity})
		if err != nil {
			return err
		}
	}
	return e.completeOrder(ctx, o)
}

// dispatchTermination turns off renewal for the subscriptions the order's
// lines reference. Terminating an already-terminated subscription is a no-op
// on the vendor side, which keeps re-dispatch idempotent.
func (e *Engine) dispatchTermination(ctx context.Context, o *model.Order, auth model.Authorization, reseller model.Reseller) error {
	for _, line := range o.Lines {
		if line.SubscriptionID == "" {
			return &model.VendorAPIError{Message: "termination order line without subscription: " + line.SKU, Retryable: false}
		}
		if _, err := e.vnd.TerminateSubscription(ctx, auth, reseller, o.ID, line.SubscriptionID); err != nil {
			return err
		}
	}
	return e.completeOrder(ctx, o)
}

// attachAndComplete records the provisioned subscriptions on the Marketplace
// order, then completes it.
func (e *Engine) attachAndComplete(ctx context.Context, o *model.Order) error {
	for _, line := range o.Lines {
		if line.SubscriptionID == "" {
			continue
		}
		err := e.mkt.CreateSubscription(ctx, o.ID, map[string]any{
			"externalIds": map[string]string{"vendor": line.SubscriptionID},
			"lines":       []map[string]any{{"item": map[string]string{"id": line.ItemID}, "quantity": line.Quantity}},
		})
		if err != nil {
			// Attaching again next cycle is safe; the Marketplace dedupes on
			// the vendor subscription id.
			return err
		}
	}
	return e.completeOrder(ctx, o)
}

// adoptSubscriptions assigns already-provisioned vendor subscriptions to the
// order lines they belong to, matching on offer id.
func (e *Engine) adoptSubscriptions(o *model.Order, subs []vendor.Subscription) {
	for _, s := range subs {
		setLineSubscription(o, s.OfferID, s.SubscriptionID)
	}
}

func setLineSubscription(o *model.Order, offerID, subscriptionID string) {
	if subscriptionID == "" {
		return
	}
	for i := range o.Lines {
		if o.Lines[i].SKU == offerID {
			o.Lines[i].SubscriptionID = subscriptionID
			return
		}
	}
}

func vendorOrderFromLines(o *model.Order) vendor.Order {
	req := vendor.Order{ExternalReferenceID: o.ID}
	for i, line := range o.Lines {
		req.LineItems = append(req.LineItems, vendor.LineItem{
			ExtLineItemNumber: i + 1,
			OfferID:           line.SKU,
			Quantity:          line.Quantity,
		})
	}
	return req
}
