// Package marketplace is the client for the Marketplace orders API: paged
// listing of orders in flight and status write-backs. The Marketplace is the
// system of record for orders; the engine never stores them durably.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"vendorsync/internal/model"
)

type Client struct {
	base  string
	token string
	http  *http.Client
	log   *zap.Logger
}

func NewClient(baseURL, apiToken string, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{base: baseURL, token: apiToken, http: &http.Client{Timeout: timeout}, log: log}
}

// APIError is a non-2xx Marketplace response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("marketplace: http %d: %s", e.Status, e.Message)
}

// Page is one page of orders in flight.
type Page struct {
	Orders     []model.Order
	NextCursor string
}

// orderDoc is the wire shape of one listed order. The attempt counter rides
// in the parameters block, the same place SetOrderAttempts writes it.
type orderDoc struct {
	model.Order
	Parameters struct {
		Attempts int `json:"attempts"`
	} `json:"parameters"`
}

type orderPage struct {
	Items      []orderDoc `json:"items"`
	NextCursor string     `json:"nextCursor"`
}

// ListProcessingOrders returns orders in querying/processing state, oldest
// first so tenants get FIFO fairness. cursor "" starts from the beginning.
func (c *Client) ListProcessingOrders(ctx context.Context, cursor string, limit int) (Page, error) {
	q := url.Values{
		"status": {model.StatusQuerying + "," + model.StatusProcessing},
		"order":  {"createdAt"},
		"limit":  {strconv.Itoa(limit)},
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var raw orderPage
	if err := c.do(ctx, http.MethodGet, "/commerce/orders?"+q.Encode(), nil, &raw); err != nil {
		return Page{}, err
	}
	page := Page{NextCursor: raw.NextCursor}
	for _, d := range raw.Items {
		o := d.Order
		if d.Parameters.Attempts > o.Attempts {
			o.Attempts = d.Parameters.Attempts
		}
		page.Orders = append(page.Orders, o)
	}
	return page, nil
}

// UpdateOrder writes vendor identifiers and other fields back onto the
// order's external record.
func (c *Client) UpdateOrder(ctx context.Context, orderID string, patch map[string]any) error {
	return c.do(ctx, http.MethodPut, "/commerce/orders/"+url.PathEscape(orderID), patch, nil)
}

// SetOrderAttempts persists the cross-cycle attempt counter in the order's
// parameters block. ListProcessingOrders reads it back from the same place,
// so the retry budget survives restarts.
func (c *Client) SetOrderAttempts(ctx context.Context, orderID string, attempts int) error {
	return c.UpdateOrder(ctx, orderID, map[string]any{
		"parameters": map[string]any{"attempts": attempts},
	})
}

// CompleteOrder moves an order to its terminal success status, rendered with
// the product's completed template.
func (c *Client) CompleteOrder(ctx context.Context, orderID, templateID string) error {
	body := map[string]any{"template": map[string]string{"id": templateID}}
	return c.do(ctx, http.MethodPost, "/commerce/orders/"+url.PathEscape(orderID)+"/complete", body, nil)
}

// FailOrder moves an order to its terminal failure status with a
// human-readable reason category.
func (c *Client) FailOrder(ctx context.Context, orderID, reason string) error {
	return c.do(ctx, http.MethodPost, "/commerce/orders/"+url.PathEscape(orderID)+"/fail", map[string]string{"reason": reason}, nil)
}

// QueryOrder sends an order back to the querying state, typically to request
// missing information from the buyer.
func (c *Client) QueryOrder(ctx context.Context, orderID, templateID string) error {
	body := map[string]any{"template": map[string]string{"id": templateID}}
	return c.do(ctx, http.MethodPost, "/commerce/orders/"+url.PathEscape(orderID)+"/query", body, nil)
}

// CreateSubscription attaches a vendor subscription to the order on the
// Marketplace side.
func (c *Client) CreateSubscription(ctx context.Context, orderID string, sub map[string]any) error {
	return c.do(ctx, http.MethodPost, "/commerce/orders/"+url.PathEscape(orderID)+"/subscriptions", sub, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := http.StatusText(resp.StatusCode)
		var e struct {
			Message string `json:"message"`
		}
		if derr := json.NewDecoder(resp.Body).Decode(&e); derr == nil && e.Message != "" {
			msg = e.Message
		}
		c.log.Warn("marketplace call failed",
			zap.String("method", method), zap.String("path", path), zap.Int("status", resp.StatusCode))
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("malformed marketplace response: %w", err)
	}
	return nil
}
