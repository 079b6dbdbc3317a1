package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/mihaimyh/gympass/pkg/membership"
)

var errUnknownSubscriber = errors.New("subscriber not in directory")

type customerReader interface {
	GetBillingCustomer(ctx context.Context, subscriberID string) (*membership.BillingCustomer, error)
}

// configDirectory resolves identities from configured subscribers, falling
// back to the email recorded on the billing customer
type configDirectory struct {
	entries   map[string]membership.Identity
	customers customerReader
}

var _ membership.Directory = (*configDirectory)(nil)

func newConfigDirectory(subscribers []SubscriberConfig, customers customerReader) *configDirectory {
	entries := make(map[string]membership.Identity, len(subscribers))
	for _, s := range subscribers {
		entries[s.ID] = membership.Identity{
			SubscriberID: s.ID,
			Email:        s.Email,
			DisplayName:  s.Name,
			Postcode:     s.Postcode,
		}
	}
	return &configDirectory{entries: entries, customers: customers}
}

func (d *configDirectory) Lookup(ctx context.Context, subscriberID string) (*membership.Identity, error) {
	if id, ok := d.entries[subscriberID]; ok {
		return &id, nil
	}
	if d.customers == nil {
		return nil, errUnknownSubscriber
	}

	c, err := d.customers.GetBillingCustomer(ctx, subscriberID)
	if err != nil {
		if errors.Is(err, membership.ErrCustomerNotFound) {
			return nil, errUnknownSubscriber
		}
		return nil, fmt.Errorf("lookup billing customer: %w", err)
	}
	if c.Email == "" {
		return nil, errUnknownSubscriber
	}
	return &membership.Identity{SubscriberID: subscriberID, Email: c.Email}, nil
}
