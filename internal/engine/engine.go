// Package engine drives Marketplace orders through the synchronization state
// machine: poll orders in flight, resolve their tenant context, dispatch the
// matching Vendor API operation and write the outcome back.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"vendorsync/internal/config"
	"vendorsync/internal/directory"
	"vendorsync/internal/mapping"
	"vendorsync/internal/marketplace"
	"vendorsync/internal/metrics"
	"vendorsync/internal/model"
	"vendorsync/internal/vendor"
)

// VendorAPI is the slice of the vendor client the engine uses.
type VendorAPI interface {
	PreviewOrder(ctx context.Context, auth model.Authorization, reseller model.Reseller, correlationID string, order vendor.Order) (vendor.Order, error)
	CreateOrder(ctx context.Context, auth model.Authorization, reseller model.Reseller, correlationID string, order vendor.Order) (vendor.Order, error)
	GetOrder(ctx context.Context, auth model.Authorization, reseller model.Reseller, correlationID, orderID string) (vendor.Order, error)
	UpdateSubscription(ctx context.Context, auth model.Authorization, reseller model.Reseller, correlationID, subscriptionID string, patch vendor.AutoRenewal) (vendor.Subscription, error)
	TerminateSubscription(ctx context.Context, auth model.Authorization, reseller model.Reseller, correlationID, subscriptionID string) (vendor.Subscription, error)
	ListSubscriptionsByExternalID(ctx context.Context, auth model.Authorization, reseller model.Reseller, externalID string) ([]vendor.Subscription, error)
}

// Marketplace is the slice of the marketplace client the engine uses.
type Marketplace interface {
	ListProcessingOrders(ctx context.Context, cursor string, limit int) (marketplace.Page, error)
	UpdateOrder(ctx context.Context, orderID string, patch map[string]any) error
	SetOrderAttempts(ctx context.Context, orderID string, attempts int) error
	CompleteOrder(ctx context.Context, orderID, templateID string) error
	FailOrder(ctx context.Context, orderID, reason string) error
	CreateSubscription(ctx context.Context, orderID string, sub map[string]any) error
}

// Templates resolves per-product status templates.
type Templates interface {
	Templates(productID string) config.StatusTemplates
}

type Options struct {
	Workers       int
	AttemptBudget int
	PageSize      int
	// DispatchTimeout bounds one order's dispatch attempt once it has started.
	DispatchTimeout time.Duration
}

type Engine struct {
	dir       *directory.Directory
	vnd       VendorAPI
	mkt       Marketplace
	maps      mapping.Store
	lease     Lease
	broker    Broker
	templates Templates
	opts      Options
	log       *zap.Logger
}

func New(dir *directory.Directory, vnd VendorAPI, mkt Marketplace, maps mapping.Store, lease Lease, broker Broker, templates Templates, opts Options, log *zap.Logger) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.AttemptBudget <= 0 {
		opts.AttemptBudget = 10
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 5 * time.Minute
	}
	return &Engine{dir: dir, vnd: vnd, mkt: mkt, maps: maps, lease: lease, broker: broker, templates: templates, opts: opts, log: log}
}

// RunCycle processes one polling cycle: every page of orders in flight,
// oldest first. Cancellation is honored between orders, never mid-dispatch,
// so an interrupted cycle leaves no half-applied order behind.
func (e *Engine) RunCycle(ctx context.Context) error {
	defer metrics.CyclesTotal.Inc()
	cursor := ""
	for {
		page, err := e.mkt.ListProcessingOrders(ctx, cursor, e.opts.PageSize)
		if err != nil {
			return fmt.Errorf("list orders: %w", err)
		}
		e.processBatch(ctx, page.Orders)
		if err := ctx.Err(); err != nil {
			return err
		}
		if page.NextCursor == "" {
			return nil
		}
		cursor = page.NextCursor
	}
}

// processBatch fans a page out to the worker pool. Orders for different
// authorizations run concurrently; the per-order lease keeps any single order
// on one worker.
func (e *Engine) processBatch(ctx context.Context, orders []model.Order) {
	ch := make(chan model.Order)
	var wg sync.WaitGroup
	for i := 0; i < e.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for o := range ch {
				e.processOne(ctx, o)
			}
		}()
	}
	for _, o := range orders {
		if ctx.Err() != nil {
			break
		}
		ch <- o
	}
	close(ch)
	wg.Wait()
}

func (e *Engine) processOne(parent context.Context, o model.Order) {
	log := e.log.With(zap.String("order_id", o.ID), zap.String("authorization_uk", o.AuthorizationUK))

	// Shutdown cancels between orders, never mid-dispatch: once an order is
	// picked up, its attempt runs detached from the cycle context so the
	// idempotent call either lands or fails on its own timeout.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), e.opts.DispatchTimeout)
	defer cancel()

	acquired, err := e.lease.Acquire(ctx, o.ID)
	if err != nil {
		log.Error("lease acquire failed", zap.Error(err))
		return
	}
	if !acquired {
		// Another worker (possibly in an overlapping cycle) holds this order.
		log.Debug("order already in flight, skipping")
		return
	}
	defer e.lease.Release(ctx, o.ID)

	auth, reseller, err := e.dir.Resolve(o.AuthorizationUK, o.SellerUK)
	if err != nil {
		// Operator-fixable configuration gap: leave the order in processing
		// rather than failing it, the order itself is fine.
		log.Warn("authorization resolution failed, order deferred", zap.Error(err))
		metrics.OrdersProcessed.WithLabelValues("deferred").Inc()
		return
	}

	if err := e.translate(ctx, &o); err != nil {
		var nf *model.NotFoundError
		if errors.As(err, &nf) {
			// Retrying cannot conjure a missing mapping.
			e.failOrder(ctx, &o, model.ReasonUnmappedSku, nf.Error())
			return
		}
		log.Error("mapping lookup failed, order deferred", zap.Error(err))
		metrics.OrdersProcessed.WithLabelValues("deferred").Inc()
		return
	}

	err = e.dispatch(ctx, &o, auth, reseller)
	if err == nil {
		if o.Status == model.StatusCompleted {
			metrics.OrdersProcessed.WithLabelValues("completed").Inc()
		} else {
			metrics.OrdersProcessed.WithLabelValues("pending").Inc()
		}
		return
	}

	var aErr *model.AuthError
	if errors.As(err, &aErr) && aErr.Reason == model.AuthInvalidCredential {
		log.Error("credential rejected, order deferred until credentials are fixed", zap.Error(err))
		metrics.OrdersProcessed.WithLabelValues("deferred").Inc()
		return
	}
	if model.Retryable(err) {
		e.noteRetry(ctx, &o, err, log)
		return
	}
	var vErr *model.VendorAPIError
	if errors.As(err, &vErr) {
		// Business-rule rejection: fatal for this order, never for the cycle.
		e.failOrder(ctx, &o, model.ReasonVendorRejected, vErr.Error())
		return
	}
	// Marketplace write errors, cancellation and the like: the next cycle
	// picks the order up again.
	log.Error("dispatch failed, order deferred", zap.Error(err))
	metrics.OrdersProcessed.WithLabelValues("deferred").Inc()
}

// translate fills the vendor SKU for each line from the mapping store.
func (e *Engine) translate(ctx context.Context, o *model.Order) error {
	for i := range o.Lines {
		line := &o.Lines[i]
		if line.SKU != "" {
			continue
		}
		sku, err := e.maps.LookupByItem(ctx, line.ItemID)
		if err != nil {
			return err
		}
		line.SKU = sku
	}
	return nil
}

func (e *Engine) dispatch(ctx context.Context, o *model.Order, auth model.Authorization, reseller model.Reseller) error {
	switch o.Type {
	case model.OrderTypePurchase:
		return e.dispatchPurchase(ctx, o, auth, reseller)
	case model.OrderTypeChange:
		return e.dispatchChange(ctx, o, auth, reseller)
	case model.OrderTypeTermination:
		return e.dispatchTermination(ctx, o, auth, reseller)
	default:
		return &model.VendorAPIError{Message: "unsupported order type " + o.Type, Retryable: false}
	}
}

// noteRetry bumps the attempt counter on the Marketplace order so the budget
// survives restarts. Exceeding the budget is terminal.
func (e *Engine) noteRetry(ctx context.Context, o *model.Order, cause error, log *zap.Logger) {
	o.Attempts++
	if o.Attempts >= e.opts.AttemptBudget {
		e.failOrder(ctx, o, model.ReasonRetriesExhausted,
			fmt.Sprintf("gave up after %d attempts: %v", o.Attempts, cause))
		return
	}
	log.Warn("transient dispatch failure, will retry next cycle",
		zap.Int("attempts", o.Attempts), zap.Error(cause))
	if err := e.mkt.SetOrderAttempts(ctx, o.ID, o.Attempts); err != nil {
		log.Error("failed to persist attempt counter", zap.Error(err))
	}
	metrics.OrdersProcessed.WithLabelValues("retrying").Inc()
	e.broker.Publish(Event{Type: EventOrderRetrying, Data: map[string]any{
		"orderId": o.ID, "attempts": o.Attempts,
	}})
}

func (e *Engine) failOrder(ctx context.Context, o *model.Order, reason, detail string) {
	msg := reason
	if detail != "" {
		msg = reason + ": " + detail
	}
	if err := e.mkt.FailOrder(ctx, o.ID, msg); err != nil {
		// Leave the order in flight; the next cycle re-fails it.
		e.log.Error("failed to mark order failed",
			zap.String("order_id", o.ID), zap.Error(err))
		return
	}
	o.Status = model.StatusFailed
	metrics.OrdersProcessed.WithLabelValues("failed").Inc()
	e.broker.Publish(Event{Type: EventOrderFailed, Data: map[string]any{
		"orderId": o.ID, "reason": reason, "detail": detail,
	}})
}

func (e *Engine) completeOrder(ctx context.Context, o *model.Order) error {
	tpl := e.templates.Templates(o.ProductID)
	if err := e.mkt.CompleteOrder(ctx, o.ID, tpl.Completed); err != nil {
		return err
	}
	o.Status = model.StatusCompleted
	e.broker.Publish(Event{Type: EventOrderCompleted, Data: map[string]any{
		"orderId": o.ID, "vendorOrderId": o.VendorOrderID,
	}})
	return nil
}
