package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"vendorsync/internal/model"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "mkt-token", 5*time.Second, zap.NewNop())
}

func TestListProcessingOrders(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/commerce/orders" {
			t.Errorf("wrong path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("status") != "querying,processing" {
			t.Errorf("wrong status filter: %q", q.Get("status"))
		}
		if q.Get("order") != "createdAt" {
			t.Errorf("wrong sort: %q", q.Get("order"))
		}
		if q.Get("limit") != "50" {
			t.Errorf("wrong limit: %q", q.Get("limit"))
		}
		if r.Header.Get("Authorization") != "Bearer mkt-token" {
			t.Errorf("missing token: %q", r.Header.Get("Authorization"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items":      []any{map[string]any{"id": "ORD-1", "status": model.StatusProcessing}},
			"nextCursor": "p2",
		})
	}))

	page, err := c.ListProcessingOrders(context.Background(), "", 50)
	if err != nil {
		t.Fatalf("ListProcessingOrders: %v", err)
	}
	if len(page.Orders) != 1 || page.Orders[0].ID != "ORD-1" {
		t.Fatalf("wrong page: %+v", page)
	}
	if page.NextCursor != "p2" {
		t.Fatalf("cursor not decoded: %q", page.NextCursor)
	}
}

func TestListPassesCursor(t *testing.T) {
	var gotCursor string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCursor = r.URL.Query().Get("cursor")
		_ = json.NewEncoder(w).Encode(Page{})
	}))
	if _, err := c.ListProcessingOrders(context.Background(), "p2", 50); err != nil {
		t.Fatal(err)
	}
	if gotCursor != "p2" {
		t.Fatalf("cursor not sent: %q", gotCursor)
	}
}

func TestCompleteOrder(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
	}))
	if err := c.CompleteOrder(context.Background(), "ORD-1", "TPL-OK"); err != nil {
		t.Fatalf("CompleteOrder: %v", err)
	}
	if gotPath != "/commerce/orders/ORD-1/complete" {
		t.Fatalf("wrong path: %s", gotPath)
	}
	tpl, _ := gotBody["template"].(map[string]any)
	if tpl["id"] != "TPL-OK" {
		t.Fatalf("template not sent: %v", gotBody)
	}
}

func TestFailOrder(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
	}))
	if err := c.FailOrder(context.Background(), "ORD-1", "unmapped-sku: no mapping"); err != nil {
		t.Fatalf("FailOrder: %v", err)
	}
	if gotPath != "/commerce/orders/ORD-1/fail" {
		t.Fatalf("wrong path: %s", gotPath)
	}
	if gotBody["reason"] != "unmapped-sku: no mapping" {
		t.Fatalf("reason not sent: %v", gotBody)
	}
}

func TestAttemptCounterRoundTrip(t *testing.T) {
	// The counter written by SetOrderAttempts must come back on the next
	// listing, or the cross-cycle retry budget silently resets every cycle.
	var mu sync.Mutex
	doc := map[string]any{"id": "ORD-1", "status": "processing"}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.Method == http.MethodPut {
			var patch map[string]any
			if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
				t.Errorf("decode patch: %v", err)
			}
			for k, v := range patch {
				doc[k] = v
			}
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": []any{doc}})
	}))

	if err := c.SetOrderAttempts(context.Background(), "ORD-1", 4); err != nil {
		t.Fatalf("SetOrderAttempts: %v", err)
	}
	page, err := c.ListProcessingOrders(context.Background(), "", 50)
	if err != nil {
		t.Fatalf("ListProcessingOrders: %v", err)
	}
	if len(page.Orders) != 1 {
		t.Fatalf("order lost: %+v", page)
	}
	if got := page.Orders[0].Attempts; got != 4 {
		t.Fatalf("attempt counter lost on round trip: got %d, want 4", got)
	}
}

func TestQueryOrder(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
	}))
	if err := c.QueryOrder(context.Background(), "ORD-1", "TPL-Q"); err != nil {
		t.Fatalf("QueryOrder: %v", err)
	}
	if gotPath != "/commerce/orders/ORD-1/query" {
		t.Fatalf("wrong path: %s", gotPath)
	}
	tpl, _ := gotBody["template"].(map[string]any)
	if tpl["id"] != "TPL-Q" {
		t.Fatalf("template not sent: %v", gotBody)
	}
}

func TestAPIErrorDecoded(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "order already terminal"})
	}))
	err := c.CompleteOrder(context.Background(), "ORD-1", "TPL-OK")
	var aErr *APIError
	if !errors.As(err, &aErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if aErr.Status != http.StatusConflict || aErr.Message != "order already terminal" {
		t.Fatalf("error not decoded: %+v", aErr)
	}
}
