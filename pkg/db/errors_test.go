package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestIsUniqueViolation_PgxError(t *testing.T) {
	err := fmt.Errorf("insert wallet: %w", &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "idx_wallets_account_id",
	})

	if !IsUniqueViolation(err, "") {
		t.Fatalf("expected unique violation")
	}
	if !IsUniqueViolation(err, "idx_wallets_account_id") {
		t.Fatalf("expected constraint match")
	}
	if IsUniqueViolation(err, "idx_orders_order_number") {
		t.Fatalf("constraint mismatch should not match")
	}
}

func TestIsUniqueViolation_PqError(t *testing.T) {
	err := &pq.Error{Code: "23505", Constraint: "idx_transactions_reference"}

	if !IsUniqueViolation(err, "idx_transactions_reference") {
		t.Fatalf("expected pq unique violation")
	}
	if IsUniqueViolation(&pq.Error{Code: "23503"}, "") {
		t.Fatalf("foreign key violation is not a unique violation")
	}
}

func TestIsUniqueViolation_MessageFallback(t *testing.T) {
	if !IsUniqueViolation(errors.New("UNIQUE constraint failed: wallets.account_id"), "") {
		t.Fatalf("expected sqlite message to match")
	}
	if IsUniqueViolation(errors.New("connection refused"), "") {
		t.Fatalf("unrelated error should not match")
	}
	if IsUniqueViolation(nil, "") {
		t.Fatalf("nil error should not match")
	}
}
