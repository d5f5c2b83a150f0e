package model

import "time"

// Order status values as recorded on the Marketplace side.
const (
	StatusQuerying   = "querying"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Order types the engine knows how to dispatch.
const (
	OrderTypePurchase    = "purchase"
	OrderTypeChange      = "change"
	OrderTypeTermination = "termination"
)

// Failure reason categories surfaced to Marketplace on failed orders.
const (
	ReasonUnmappedSku      = "unmapped-sku"
	ReasonRetriesExhausted = "retries-exhausted"
	ReasonVendorRejected   = "vendor-rejected"
)

// Authorization is a tenant-scoped Vendor API context: one distributor,
// one currency, one or more resellers.
type Authorization struct {
	AuthorizationUK string     `json:"authorizationUk" yaml:"authorization_uk"`
	AuthorizationID string     `json:"authorizationId" yaml:"authorization_id"`
	DistributorID   string     `json:"distributorId" yaml:"distributor_id"`
	Currency        string     `json:"currency" yaml:"currency"`
	Resellers       []Reseller `json:"resellers" yaml:"resellers"`
}

// Reseller links a Marketplace seller identity to a Vendor-side reseller account.
type Reseller struct {
	VendorResellerID string `json:"id" yaml:"id"`
	SellerID         string `json:"sellerId" yaml:"seller_id"`
	SellerUK         string `json:"sellerUk" yaml:"seller_uk"`
}

// Credential holds Vendor API client credentials for one authorization.
// Secret material lives only here and in process memory.
type Credential struct {
	AuthorizationUK string `yaml:"authorization_uk"`
	AuthorizationID string `yaml:"authorization_id"`
	Name            string `yaml:"name"`
	ClientID        string `yaml:"client_id"`
	ClientSecret    string `yaml:"client_secret"`
}

// AccessToken is a cached Vendor API bearer token for one authorization.
type AccessToken struct {
	Token  string
	Expiry time.Time
}

// Expired reports whether the token is expired or will expire within margin.
func (t AccessToken) Expired(margin time.Duration) bool {
	return time.Now().Add(margin).After(t.Expiry)
}

// OrderLine is one item of an order. SKU is the vendor product code, ItemID
// the Marketplace catalog item it maps to. SubscriptionID is filled in once
// the vendor has provisioned the line.
type OrderLine struct {
	SKU            string `json:"sku"`
	ItemID         string `json:"itemId,omitempty"`
	Quantity       int    `json:"quantity"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
}

// Order is the engine's working copy of a Marketplace order for one
// processing cycle. Marketplace stays the system of record.
type Order struct {
	ID              string      `json:"id"`
	AuthorizationUK string      `json:"authorizationUk"`
	SellerUK        string      `json:"sellerUk"`
	ProductID       string      `json:"productId"`
	Type            string      `json:"type"`
	Lines           []OrderLine `json:"lines"`
	Status          string      `json:"status"`
	Attempts        int         `json:"attempts"`
	VendorOrderID   string      `json:"vendorOrderId,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
}

// Terminal reports whether the order reached a terminal status.
func (o Order) Terminal() bool {
	return o.Status == StatusCompleted || o.Status == StatusFailed
}
