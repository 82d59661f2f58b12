package listing

import (
	"context"
	"errors"
)

// ErrListingNotFound reports that a listing no longer resolves in the
// remote store (sold, withdrawn or deleted).
var ErrListingNotFound = errors.New("listing: not found")

// Listing is the slice of the remote listing record the chat core
// reads: enough to label a conversation and identify the seller.
type Listing struct {
	ID       string
	Title    string
	SellerID string
}

// Resolver looks up listings in the remote marketplace store.
type Resolver interface {
	Resolve(ctx context.Context, id string) (*Listing, error)
}
