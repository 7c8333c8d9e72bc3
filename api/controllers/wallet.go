package controllers

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/divuzki/cartlogs-backend/api/middleware"
	"github.com/divuzki/cartlogs-backend/api/responses"
	"github.com/divuzki/cartlogs-backend/api/validators"
	"github.com/divuzki/cartlogs-backend/internal/funding"
	"github.com/divuzki/cartlogs-backend/pkg/enums"
	pkgerrors "github.com/divuzki/cartlogs-backend/pkg/errors"
	"github.com/divuzki/cartlogs-backend/pkg/logger"
)

type fundRequest struct {
	Amount  decimal.Decimal `json:"amount" validate:"required"`
	Gateway string          `json:"gateway" validate:"required"`
	Email   string          `json:"email" validate:"omitempty,email"`
}

type fundResponse struct {
	Reference   string          `json:"reference"`
	CheckoutURL string          `json:"checkout_url"`
	Amount      string          `json:"amount"`
	Fee         string          `json:"fee"`
	Total       string          `json:"total"`
	Transaction transactionView `json:"transaction"`
}

type manualInitRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required"`
}

type manualInitResponse struct {
	Reference     string `json:"reference"`
	Amount        string `json:"amount"`
	BankName      string `json:"bank_name"`
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
}

type manualConfirmRequest struct {
	Reference string `json:"reference" validate:"required"`
}

type walletResponse struct {
	Wallet       walletView        `json:"wallet"`
	Transactions []transactionView `json:"transactions"`
	TotalSpent   string            `json:"total_spent"`
}

type walletTransactionsResponse struct {
	Transactions []transactionView `json:"transactions"`
	TotalSpent   string            `json:"total_spent"`
}

// WalletFetch returns the caller's balance and transaction history.
func WalletFetch(svc funding.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "funding service unavailable"))
			return
		}

		accountID, ok := middleware.AccountIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "account context missing"))
			return
		}

		view, err := svc.GetWallet(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, walletResponse{
			Wallet:       newWalletView(view.Wallet),
			Transactions: newTransactionViews(view.Transactions),
			TotalSpent:   view.TotalSpent.StringFixed(2),
		})
	}
}

// WalletTransactions returns the transaction history and the settled-debit
// total without the balance envelope.
func WalletTransactions(svc funding.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "funding service unavailable"))
			return
		}

		accountID, ok := middleware.AccountIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "account context missing"))
			return
		}

		view, err := svc.GetWallet(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, walletTransactionsResponse{
			Transactions: newTransactionViews(view.Transactions),
			TotalSpent:   view.TotalSpent.StringFixed(2),
		})
	}
}

// WalletFund initializes a gateway-hosted charge for the total including the
// gateway fee and records the pending transaction.
func WalletFund(svc funding.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "funding service unavailable"))
			return
		}

		accountID, ok := middleware.AccountIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "account context missing"))
			return
		}

		var body fundRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		gateway, err := enums.ParseGateway(body.Gateway)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown gateway"))
			return
		}

		result, err := svc.FundWallet(r.Context(), funding.FundInput{
			AccountID: accountID,
			Amount:    body.Amount,
			Gateway:   gateway,
			Email:     body.Email,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, fundResponse{
			Reference:   result.Reference,
			CheckoutURL: result.CheckoutURL,
			Amount:      result.Amount.StringFixed(2),
			Fee:         result.Fee.StringFixed(2),
			Total:       result.Total.StringFixed(2),
			Transaction: newTransactionView(result.Transaction),
		})
	}
}

// WalletFundManual issues a one-time manual transfer reference alongside the
// operator's bank details.
func WalletFundManual(svc funding.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "funding service unavailable"))
			return
		}

		accountID, ok := middleware.AccountIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "account context missing"))
			return
		}

		var body manualInitRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.InitiateManual(r.Context(), accountID, body.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, manualInitResponse{
			Reference:     result.Reference,
			Amount:        result.Amount.StringFixed(2),
			BankName:      result.BankName,
			AccountName:   result.AccountName,
			AccountNumber: result.AccountNumber,
		})
	}
}

// WalletFundManualConfirm consumes the one-time reference and flags the
// transfer for operator verification; the wallet is credited only once the
// operator settles the pending transaction. A second confirm for the same
// reference is rejected.
func WalletFundManualConfirm(svc funding.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "funding service unavailable"))
			return
		}

		var body manualConfirmRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		transaction, err := svc.ConfirmManual(r.Context(), body.Reference)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newTransactionView(transaction))
	}
}
