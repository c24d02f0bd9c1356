package provider

import (
	"bytes"
	"encoding/json"
	"time"
)

const mediaType = "application/vnd.api+json"

// ID is a JSON:API identifier. The provider emits numeric ids in some
// payloads and strings in others.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// SubscriptionItem is the priced line of a subscription that carries the
// seat quantity.
type SubscriptionItem struct {
	ID             ID   `json:"id"`
	SubscriptionID ID   `json:"subscription_id"`
	PriceID        ID   `json:"price_id"`
	Quantity       int  `json:"quantity"`
	IsUsageBased   bool `json:"is_usage_based"`
}

type SubscriptionAttributes struct {
	StoreID               ID                `json:"store_id"`
	Status                string            `json:"status"`
	RenewsAt              *time.Time        `json:"renews_at"`
	EndsAt                *time.Time        `json:"ends_at"`
	FirstSubscriptionItem *SubscriptionItem `json:"first_subscription_item"`
}

// Subscription is the subset of the provider subscription the engine reads.
type Subscription struct {
	ID       string
	Status   string
	RenewsAt *time.Time
	ItemID   string
	Quantity int
}

func (a SubscriptionAttributes) toSubscription(id ID) *Subscription {
	sub := &Subscription{
		ID:       id.String(),
		Status:   a.Status,
		RenewsAt: a.RenewsAt,
	}
	if a.FirstSubscriptionItem != nil {
		sub.ItemID = a.FirstSubscriptionItem.ID.String()
		sub.Quantity = a.FirstSubscriptionItem.Quantity
	}
	return sub
}

type resource[A any] struct {
	Type          string                  `json:"type"`
	ID            ID                      `json:"id,omitempty"`
	Attributes    A                       `json:"attributes"`
	Relationships map[string]relationship `json:"relationships,omitempty"`
}

type relationship struct {
	Data resourceRef `json:"data"`
}

type resourceRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type document[A any] struct {
	Data resource[A] `json:"data"`
}

type errorDocument struct {
	Errors []struct {
		Status string `json:"status"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// ItemUpdate is a quantity change on a subscription item.
type ItemUpdate struct {
	Quantity           int  `json:"quantity"`
	DisableProrations  bool `json:"disable_prorations"`
	InvoiceImmediately bool `json:"invoice_immediately"`
}

type UsageAction string

const (
	UsageIncrement UsageAction = "increment"
	UsageSet       UsageAction = "set"
)

type usageRecordAttributes struct {
	Quantity int         `json:"quantity"`
	Action   UsageAction `json:"action"`
}

// UsageRecord is the provider's acknowledgement of a usage report.
type UsageRecord struct {
	ID       string
	Quantity int
	Action   UsageAction
}

type itemAttributes struct {
	Quantity int `json:"quantity"`
}

func itemRef(itemID string) map[string]relationship {
	return map[string]relationship{
		"subscription-item": {Data: resourceRef{Type: "subscription-items", ID: itemID}},
	}
}
