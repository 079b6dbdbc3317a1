package stripe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/gympass/pkg/billing"
	"github.com/mihaimyh/gympass/pkg/membership"
)

type priceAPI interface {
	Retrieve(ctx context.Context, id string, params *stripe.PriceRetrieveParams) (*stripe.Price, error)
}

// Catalog reads product data for a price from the Stripe API. Wrap it in a
// membership.GuardedCatalog before handing it to the reconciler.
type Catalog struct {
	prices  priceAPI
	metrics billing.Metrics
}

var _ membership.ProductCatalog = (*Catalog)(nil)

// NewCatalog creates a Catalog. A nil client is built from apiKey.
func NewCatalog(apiKey string, client *stripe.Client, metrics billing.Metrics) (*Catalog, error) {
	if client == nil {
		apiKey = strings.TrimSpace(apiKey)
		if apiKey == "" {
			return nil, billing.ErrProviderNotConfigured
		}
		client = stripe.NewClient(apiKey)
	}
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	return &Catalog{prices: client.V1Prices, metrics: metrics}, nil
}

// Product implements membership.ProductCatalog
func (c *Catalog) Product(ctx context.Context, priceID string) (*membership.ProductInfo, error) {
	params := &stripe.PriceRetrieveParams{}
	params.AddExpand("product")

	start := time.Now()
	price, err := c.prices.Retrieve(ctx, priceID, params)
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordAPICall(providerName, "/v1/prices", status)
	c.metrics.RecordAPICallDuration(providerName, "/v1/prices", time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%w: retrieve price %s: %v", billing.ErrProviderAPIError, priceID, err)
	}
	return productInfo(price), nil
}
