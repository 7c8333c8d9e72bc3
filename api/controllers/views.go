package controllers

import (
	"time"

	"github.com/divuzki/cartlogs-backend/internal/inventory"
	"github.com/divuzki/cartlogs-backend/pkg/db/models"
)

// Money fields render as fixed two-decimal strings so clients never see
// float artifacts.

type walletView struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Balance   string `json:"balance"`
}

type transactionView struct {
	ID          string    `json:"id"`
	Reference   string    `json:"reference,omitempty"`
	Gateway     string    `json:"gateway"`
	Kind        string    `json:"kind"`
	Amount      string    `json:"amount"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

type logView struct {
	ID      string `json:"id"`
	Payload string `json:"payload"`
}

type orderItemView struct {
	ID        string    `json:"id"`
	ListingID string    `json:"listing_id"`
	Quantity  int       `json:"quantity"`
	Price     string    `json:"price"`
	Subtotal  string    `json:"subtotal"`
	Logs      []logView `json:"logs,omitempty"`
}

type orderView struct {
	OrderNumber   string          `json:"order_number"`
	Status        string          `json:"status"`
	TotalAmount   string          `json:"total_amount"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Items         []orderItemView `json:"items,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type allocationView struct {
	ItemID    string    `json:"item_id"`
	Requested int       `json:"requested"`
	Allocated int       `json:"allocated"`
	Partial   bool      `json:"partial"`
	Logs      []logView `json:"logs"`
}

type listingView struct {
	ID                 string `json:"id"`
	Platform           string `json:"platform"`
	Category           string `json:"category"`
	Description        string `json:"description,omitempty"`
	FollowersCount     int    `json:"followers_count"`
	VerificationStatus string `json:"verification_status"`
	Price              string `json:"price"`
	Stock              int64  `json:"stock"`
	IsInStock          bool   `json:"is_in_stock"`
}

func newWalletView(wallet *models.Wallet) walletView {
	return walletView{
		ID:        wallet.ID.String(),
		AccountID: wallet.AccountID.String(),
		Balance:   wallet.Balance.StringFixed(2),
	}
}

func newTransactionView(transaction *models.Transaction) transactionView {
	return transactionView{
		ID:          transaction.ID.String(),
		Reference:   transaction.Ref(),
		Gateway:     transaction.Gateway.String(),
		Kind:        transaction.Kind.String(),
		Amount:      transaction.Amount.StringFixed(2),
		Description: transaction.Description,
		Status:      transaction.Status.String(),
		CreatedAt:   transaction.CreatedAt,
	}
}

func newTransactionViews(transactions []models.Transaction) []transactionView {
	views := make([]transactionView, 0, len(transactions))
	for i := range transactions {
		views = append(views, newTransactionView(&transactions[i]))
	}
	return views
}

func newLogViews(logs []models.Log) []logView {
	views := make([]logView, 0, len(logs))
	for _, l := range logs {
		views = append(views, logView{ID: l.ID.String(), Payload: l.Payload})
	}
	return views
}

func newOrderItemView(item models.OrderItem, logs []models.Log) orderItemView {
	return orderItemView{
		ID:        item.ID.String(),
		ListingID: item.AccountID.String(),
		Quantity:  item.Quantity,
		Price:     item.Price.StringFixed(2),
		Subtotal:  item.Subtotal().StringFixed(2),
		Logs:      newLogViews(logs),
	}
}

func newOrderView(order *models.Order) orderView {
	view := orderView{
		OrderNumber: order.OrderNumber,
		Status:      order.Status.String(),
		TotalAmount: order.TotalAmount.StringFixed(2),
		CreatedAt:   order.CreatedAt,
	}
	if order.TransactionID != nil {
		view.TransactionID = order.TransactionID.String()
	}
	for _, item := range order.Items {
		view.Items = append(view.Items, newOrderItemView(item, nil))
	}
	return view
}

func newListingView(listing inventory.Listing) listingView {
	return listingView{
		ID:                 listing.Account.ID.String(),
		Platform:           listing.Account.Platform,
		Category:           listing.Account.Category,
		Description:        listing.Account.Description,
		FollowersCount:     listing.Account.FollowersCount,
		VerificationStatus: listing.Account.VerificationStatus,
		Price:              listing.Account.Price.StringFixed(2),
		Stock:              listing.Stock,
		IsInStock:          listing.Stock > 0,
	}
}
