package controllers

import (
	"net/http"

	"github.com/divuzki/cartlogs-backend/api/responses"
	"github.com/divuzki/cartlogs-backend/internal/inventory"
	pkgerrors "github.com/divuzki/cartlogs-backend/pkg/errors"
	"github.com/divuzki/cartlogs-backend/pkg/logger"
)

// MarketplaceList returns active listings with their live stock counts.
func MarketplaceList(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}

		listings, err := svc.ListMarketplace(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		views := make([]listingView, 0, len(listings))
		for _, listing := range listings {
			views = append(views, newListingView(listing))
		}
		responses.WriteSuccess(w, views)
	}
}
