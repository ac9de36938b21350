package firestore

import (
	"context"
	"errors"

	domain "github.com/hanko-field/bookings/internal/domain"
	pfirestore "github.com/hanko-field/bookings/internal/platform/firestore"
	"github.com/hanko-field/bookings/internal/repositories"
)

// ListingRepository reads listings maintained by the catalogue side of the marketplace.
type ListingRepository struct {
	listings *pfirestore.Collection[listingDocument]
}

var _ repositories.ListingRepository = (*ListingRepository)(nil)

// NewListingRepository constructs a Firestore-backed listing repository.
func NewListingRepository(provider *pfirestore.Provider) (*ListingRepository, error) {
	if provider == nil {
		return nil, errors.New("listing repository requires firestore provider")
	}
	return &ListingRepository{listings: pfirestore.NewCollection[listingDocument](provider, listingsCollection)}, nil
}

func (r *ListingRepository) FindByID(ctx context.Context, listingID string) (domain.Listing, error) {
	doc, err := r.listings.Get(ctx, listingID)
	if err != nil {
		return domain.Listing{}, err
	}
	return decodeListing(listingID, doc), nil
}
