// Package uploader defines the marketplace upload capability.
//
// Marketplace-specific wire protocols live behind the Uploader interface,
// one implementation variant per marketplace, selected by the factory. The
// core never sees request/response shapes, only classified errors.
package uploader

import (
	"context"
	"fmt"

	"listsync/internal/store"
)

// Payload is the marketplace-neutral upload body built from an item and its
// listing.
type Payload struct {
	SKU         string   `json:"sku"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Brand       string   `json:"brand,omitempty"`
	Price       float64  `json:"price"`
	Quantity    int      `json:"quantity"`
	Images      []string `json:"images,omitempty"`
}

// Uploader is the per-marketplace listing API.
type Uploader interface {
	// CreateListing creates a listing and returns the marketplace's remote
	// identifier for it.
	CreateListing(ctx context.Context, p Payload) (remoteID string, err error)

	// UpdateListing applies field changes to an existing remote listing.
	UpdateListing(ctx context.Context, remoteID string, fields map[string]any) error

	// CheckExists reports whether the remote listing is still present.
	CheckExists(ctx context.Context, remoteID string) (bool, error)
}

// BuildPayload assembles the upload body, validating required fields. The
// returned *ValidationError names every missing field so the skip is
// actionable in logs.
func BuildPayload(item *store.Item, listing *store.Listing) (Payload, error) {
	var missing []string
	if item.Title == "" {
		missing = append(missing, "title")
	}
	if listing.Price <= 0 {
		missing = append(missing, "price")
	}
	if listing.Quantity <= 0 {
		missing = append(missing, "quantity")
	}
	if len(missing) > 0 {
		return Payload{}, &ValidationError{Missing: missing}
	}

	return Payload{
		SKU:         listing.SKU,
		Title:       item.Title,
		Description: item.Description,
		Category:    item.Category,
		Brand:       item.Brand,
		Price:       listing.Price,
		Quantity:    listing.Quantity,
		Images:      item.Images,
	}, nil
}

// ForMarketplace selects the uploader variant for a marketplace, configured
// with the account's opaque credentials.
func ForMarketplace(marketplace string, account *store.Account) (Uploader, error) {
	switch marketplace {
	case "httpjson", "generic":
		return NewHTTPJSON(account.Credentials)
	default:
		return nil, fmt.Errorf("no uploader variant for marketplace %q", marketplace)
	}
}
