package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/divuzki/cartlogs-backend/api/middleware"
	"github.com/divuzki/cartlogs-backend/api/responses"
	"github.com/divuzki/cartlogs-backend/api/validators"
	"github.com/divuzki/cartlogs-backend/internal/inventory"
	"github.com/divuzki/cartlogs-backend/internal/orders"
	pkgerrors "github.com/divuzki/cartlogs-backend/pkg/errors"
	"github.com/divuzki/cartlogs-backend/pkg/logger"
)

type checkoutLine struct {
	ListingID string `json:"listing_id" validate:"required,uuid4"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

type checkoutRequest struct {
	Items []checkoutLine `json:"items" validate:"required,min=1,dive"`
}

type confirmResponse struct {
	Order       orderView        `json:"order"`
	Transaction transactionView  `json:"transaction"`
	Allocations []allocationView `json:"allocations"`
}

// Checkout creates a pending order, with prices snapshotted at request time
// and a pending wallet debit linked for later settlement.
func Checkout(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		accountID, ok := middleware.AccountIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "account context missing"))
			return
		}

		var body checkoutRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := orders.CheckoutInput{AccountID: accountID}
		for _, line := range body.Items {
			listingID, err := uuid.Parse(line.ListingID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid listing id"))
				return
			}
			input.Lines = append(input.Lines, orders.CheckoutLine{
				ListingID: listingID,
				Quantity:  line.Quantity,
			})
		}

		order, err := svc.Checkout(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newOrderView(order))
	}
}

// OrderConfirm settles the order's pending debit and allocates inventory
// atomically, then returns the delivered credentials.
func OrderConfirm(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		accountID, orderNumber, err := orderRequestParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ConfirmPayment(r.Context(), accountID, orderNumber)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := confirmResponse{
			Order:       newOrderView(result.Order),
			Transaction: newTransactionView(result.Transaction),
		}
		for _, alloc := range result.Allocations {
			resp.Allocations = append(resp.Allocations, allocationView{
				ItemID:    alloc.Item.ID.String(),
				Requested: alloc.Result.Requested,
				Allocated: alloc.Result.Allocated,
				Partial:   alloc.Result.Partial(),
				Logs:      newLogViews(alloc.Result.Logs),
			})
		}
		responses.WriteSuccess(w, resp)
	}
}

// OrderCancel cancels a pending order; settled orders are rejected.
func OrderCancel(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		accountID, orderNumber, err := orderRequestParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Cancel(r.Context(), accountID, orderNumber)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newOrderView(order))
	}
}

// OrderDetail returns one order with the credentials bound to each item.
func OrderDetail(svc orders.Service, inventorySvc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || inventorySvc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		accountID, orderNumber, err := orderRequestParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.GetOrder(r.Context(), accountID, orderNumber)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view := newOrderView(order)
		view.Items = view.Items[:0]
		for _, item := range order.Items {
			logs, err := inventorySvc.LogsForOrderItem(r.Context(), item.ID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			view.Items = append(view.Items, newOrderItemView(item, logs))
		}

		responses.WriteSuccess(w, view)
	}
}

// OrderList returns the caller's orders, newest first.
func OrderList(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		accountID, ok := middleware.AccountIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "account context missing"))
			return
		}

		list, err := svc.ListOrders(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		views := make([]orderView, 0, len(list))
		for i := range list {
			views = append(views, newOrderView(&list[i]))
		}
		responses.WriteSuccess(w, views)
	}
}

func orderRequestParams(r *http.Request) (uuid.UUID, string, error) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		return uuid.Nil, "", pkgerrors.New(pkgerrors.CodeUnauthorized, "account context missing")
	}
	orderNumber := strings.TrimSpace(chi.URLParam(r, "orderNumber"))
	if orderNumber == "" {
		return uuid.Nil, "", pkgerrors.New(pkgerrors.CodeValidation, "order number is required")
	}
	return accountID, orderNumber, nil
}
