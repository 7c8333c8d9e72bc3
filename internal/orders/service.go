package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/divuzki/cartlogs-backend/internal/inventory"
	"github.com/divuzki/cartlogs-backend/internal/ledger"
	"github.com/divuzki/cartlogs-backend/pkg/db/models"
	"github.com/divuzki/cartlogs-backend/pkg/enums"
	pkgerrors "github.com/divuzki/cartlogs-backend/pkg/errors"
	"github.com/divuzki/cartlogs-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// CheckoutLine is one requested listing purchase.
type CheckoutLine struct {
	ListingID uuid.UUID
	Quantity  int
}

// CheckoutInput creates a pending order.
type CheckoutInput struct {
	AccountID uuid.UUID
	Lines     []CheckoutLine
}

// ItemAllocation pairs a line item with the logs bound to it at settlement.
type ItemAllocation struct {
	Item   models.OrderItem
	Result inventory.AllocationResult
}

// ConfirmResult reports a settled order.
type ConfirmResult struct {
	Order       *models.Order
	Transaction *models.Transaction
	Allocations []ItemAllocation
}

// Service owns the order lifecycle: checkout snapshots prices into a pending
// order alongside its pending wallet debit, confirm settles that debit and
// binds inventory in one atomic unit, cancel voids both without touching the
// balance.
type Service interface {
	Checkout(ctx context.Context, input CheckoutInput) (*models.Order, error)
	ConfirmPayment(ctx context.Context, accountID uuid.UUID, orderNumber string) (*ConfirmResult, error)
	Cancel(ctx context.Context, accountID uuid.UUID, orderNumber string) (*models.Order, error)
	GetOrder(ctx context.Context, accountID uuid.UUID, orderNumber string) (*models.Order, error)
	ListOrders(ctx context.Context, accountID uuid.UUID) ([]models.Order, error)
}

type service struct {
	repo       Repository
	ledgerRepo ledger.Repository
	ledger     ledger.Service
	inventory  inventory.Service
	tx         txRunner
	log        *logger.Logger
}

// NewService wires the order service.
func NewService(repo Repository, ledgerRepo ledger.Repository, ledgerSvc ledger.Service, inventorySvc inventory.Service, tx txRunner, log *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if ledgerRepo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if inventorySvc == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, ledgerRepo: ledgerRepo, ledger: ledgerSvc, inventory: inventorySvc, tx: tx, log: log}, nil
}

func (s *service) Checkout(ctx context.Context, input CheckoutInput) (*models.Order, error) {
	if input.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	if len(input.Lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one line required")
	}

	order := &models.Order{
		AccountID: input.AccountID,
		Status:    enums.OrderStatusPending,
	}
	total := decimal.Zero
	shortages := []map[string]any{}

	for _, line := range input.Lines {
		if line.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
				WithDetails(map[string]string{"listing_id": line.ListingID.String()})
		}

		listing, err := s.inventory.GetAccount(ctx, line.ListingID)
		if err != nil {
			return nil, err
		}
		if !listing.IsActive {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "listing not available").
				WithDetails(map[string]string{"listing_id": line.ListingID.String()})
		}

		stock, err := s.inventory.Stock(ctx, listing.ID)
		if err != nil {
			return nil, err
		}
		if int64(line.Quantity) > stock {
			shortages = append(shortages, map[string]any{
				"listing_id": listing.ID.String(),
				"requested":  line.Quantity,
				"available":  stock,
			})
			continue
		}

		// Price is snapshotted now; later catalog changes never reprice the
		// order.
		item := models.OrderItem{
			AccountID: listing.ID,
			Quantity:  line.Quantity,
			Price:     listing.Price,
		}
		order.Items = append(order.Items, item)
		total = total.Add(item.Subtotal())
	}

	if len(shortages) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeOutOfStock, "insufficient stock").
			WithDetails(map[string]any{"shortages": shortages})
	}

	order.TotalAmount = total

	wallet, err := s.ledger.EnsureWallet(ctx, input.AccountID)
	if err != nil {
		return nil, err
	}

	// The order and its pending debit are born together: confirm flips the
	// debit to success, cancel voids it.
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateOrder(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist order")
		}

		pending := &models.Transaction{
			WalletID:    wallet.ID,
			Gateway:     enums.GatewayWallet,
			Kind:        enums.TransactionKindDebit,
			Amount:      total,
			Description: "Payment for " + order.OrderNumber,
			Status:      enums.TransactionStatusPending,
		}
		if err := s.ledgerRepo.WithTx(tx).CreateTransaction(ctx, pending); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist pending debit")
		}

		order.TransactionID = &pending.ID
		if err := repo.SaveOrder(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx = s.log.WithOrderNumber(ctx, order.OrderNumber)
	s.log.Info(ctx, "order created")
	return order, nil
}

func (s *service) ConfirmPayment(ctx context.Context, accountID uuid.UUID, orderNumber string) (*ConfirmResult, error) {
	ctx = s.log.WithOrderNumber(ctx, orderNumber)

	wallet, err := s.ledger.EnsureWallet(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var result ConfirmResult
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		order, err := repo.FindOrderByNumberForUpdate(ctx, accountID, orderNumber)
		if err != nil {
			return orderLookupError(err)
		}
		if err := transition(order, enums.OrderStatusProcessing); err != nil {
			return err
		}

		// The debit recorded at checkout settles here; older orders without
		// one get a fresh settled debit instead.
		var pending *models.Transaction
		if order.TransactionID != nil {
			pending, err = s.ledgerRepo.WithTx(tx).FindTransactionByID(ctx, *order.TransactionID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending debit")
			}
		}

		debit, err := s.ledger.DebitTx(ctx, tx, ledger.DebitInput{
			WalletID:    wallet.ID,
			Amount:      order.TotalAmount,
			Transaction: pending,
			Gateway:     enums.GatewayWallet,
			Description: "Payment for " + order.OrderNumber,
		})
		if err != nil {
			return err
		}
		order.TransactionID = &debit.ID

		for _, item := range order.Items {
			allocated, err := s.inventory.AllocateTx(ctx, tx, &item)
			if err != nil {
				return err
			}
			result.Allocations = append(result.Allocations, ItemAllocation{Item: item, Result: *allocated})
		}

		// A shortfall never rolls the payment back; the operator restocks
		// and delivers the remainder out of band.
		order.Status = enums.OrderStatusCompleted
		if err := repo.SaveOrder(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist order")
		}

		result.Order = order
		result.Transaction = debit
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "order settled")
	return &result, nil
}

func (s *service) Cancel(ctx context.Context, accountID uuid.UUID, orderNumber string) (*models.Order, error) {
	ctx = s.log.WithOrderNumber(ctx, orderNumber)

	var cancelled *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		order, err := repo.FindOrderByNumberForUpdate(ctx, accountID, orderNumber)
		if err != nil {
			return orderLookupError(err)
		}
		if err := transition(order, enums.OrderStatusCancelled); err != nil {
			return err
		}

		if order.TransactionID != nil {
			if _, err := s.ledger.CancelTransactionTx(ctx, tx, *order.TransactionID); err != nil {
				return err
			}
		}

		order.Status = enums.OrderStatusCancelled
		if err := repo.SaveOrder(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist order")
		}
		cancelled = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "order cancelled")
	return cancelled, nil
}

func (s *service) GetOrder(ctx context.Context, accountID uuid.UUID, orderNumber string) (*models.Order, error) {
	order, err := s.repo.FindOrderByNumber(ctx, accountID, orderNumber)
	if err != nil {
		return nil, orderLookupError(err)
	}
	return order, nil
}

func (s *service) ListOrders(ctx context.Context, accountID uuid.UUID) ([]models.Order, error) {
	orders, err := s.repo.ListOrdersByAccount(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return orders, nil
}

// transition enforces the order state machine.
func transition(order *models.Order, next enums.OrderStatus) error {
	if !order.Status.CanTransitionTo(next) {
		return pkgerrors.New(pkgerrors.CodeConflict, "order state does not allow this operation").
			WithDetails(map[string]string{
				"status":    order.Status.String(),
				"requested": next.String(),
			})
	}
	order.Status = next
	return nil
}

func orderLookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
}
