package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsStockConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "conflict", err: ErrStockConflict, want: true},
		{name: "wrapped conflict", err: fmt.Errorf("update stock: %w", ErrStockConflict), want: true},
		{name: "inside transaction failure", err: &TransactionFailedError{Op: "update stock", Err: ErrStockConflict}, want: true},
		{name: "other error", err: ErrOrderNotFound, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsStockConflict(tt.err); got != tt.want {
				t.Errorf("IsStockConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsIdempotencyConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "idempotency already exists", err: ErrIdempotencyKeyAlreadyExists, want: true},
		{name: "idempotency hash mismatch", err: ErrIdempotencyHashMismatch, want: true},
		{name: "wrapped idempotency conflict", err: errors.Join(ErrIdempotencyHashMismatch, errors.New("extra context")), want: true},
		{name: "non idempotency error", err: ErrStockConflict, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsIdempotencyConflict(tt.err); got != tt.want {
				t.Errorf("IsIdempotencyConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTypedErrorsMatchSentinels(t *testing.T) {
	var notFound error = &ItemNotFoundError{ItemID: "A"}
	if !errors.Is(notFound, ErrItemNotFound) {
		t.Fatal("ItemNotFoundError must match ErrItemNotFound")
	}

	var insufficient error = fmt.Errorf("place order: %w", &InsufficientStockError{ItemID: "B", Requested: 3, Available: 1})
	var target *InsufficientStockError
	if !errors.As(insufficient, &target) {
		t.Fatal("expected InsufficientStockError via errors.As")
	}
	if target.ItemID != "B" || target.Requested != 3 || target.Available != 1 {
		t.Fatalf("unexpected details: %+v", target)
	}

	var malformed error = &MalformedLineError{Index: 2, Reason: "quantity must be positive"}
	if !errors.Is(malformed, ErrMalformedLine) {
		t.Fatal("MalformedLineError must match ErrMalformedLine")
	}
}

func TestTransactionFailedError_UnwrapsCause(t *testing.T) {
	err := &TransactionFailedError{Op: "commit", Err: context.Canceled}

	if !errors.Is(err, ErrTransactionFailed) {
		t.Fatal("expected ErrTransactionFailed")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatal("expected cause to be reachable")
	}
	if errors.Is(err, ErrInsufficientStock) {
		t.Fatal("unexpected match with ErrInsufficientStock")
	}

	bare := &TransactionFailedError{Op: "begin"}
	if !errors.Is(bare, ErrTransactionFailed) {
		t.Fatal("expected ErrTransactionFailed without cause")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{err: nil, want: ""},
		{err: ErrEmptyBasket, want: ErrorKindEmptyBasket},
		{err: &MalformedLineError{Index: 0, Reason: "x"}, want: ErrorKindMalformedLine},
		{err: &ItemNotFoundError{ItemID: "A"}, want: ErrorKindItemNotFound},
		{err: &InsufficientStockError{ItemID: "A"}, want: ErrorKindInsufficientStock},
		{err: &TransactionFailedError{Op: "begin", Err: errors.New("boom")}, want: ErrorKindTransactionFailed},
		{err: ErrOwnerRequired, want: ErrorKindOwnerRequired},
		{err: errors.New("boom"), want: ErrorKindUnknown},
	}

	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}

	if IsBusinessError(&TransactionFailedError{Op: "commit"}) {
		t.Error("transaction failure must not be a business error")
	}
	if !IsBusinessError(&InsufficientStockError{ItemID: "A"}) {
		t.Error("insufficient stock must be a business error")
	}
}
