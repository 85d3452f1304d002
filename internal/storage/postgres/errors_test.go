package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001"}, want: domain.ErrStockConflict},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, want: domain.ErrStockConflict},
		{name: "negative stock", err: &pgconn.PgError{Code: "23514", ConstraintName: "catalog_items_stock_non_negative"}, want: domain.ErrStockNegative},
		{name: "non-positive price", err: &pgconn.PgError{Code: "23514", ConstraintName: "catalog_items_price_positive"}, want: domain.ErrItemPriceInvalid},
		{name: "line quantity", err: &pgconn.PgError{Code: "23514", ConstraintName: "order_lines_quantity_positive"}, want: domain.ErrLineQtyInvalid},
		{name: "line price", err: &pgconn.PgError{Code: "23514", ConstraintName: "order_lines_unit_price_positive"}, want: domain.ErrLinePriceInvalid},
		{name: "tx done", err: sql.ErrTxDone, want: domain.ErrTxDone},
		{name: "canceled", err: context.Canceled, want: context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.ErrorIs(t, mapError("op", tt.err), tt.want)
		})
	}

	assert.NoError(t, mapError("op", nil))

	other := errors.New("connection reset")
	mapped := mapError("select item", other)
	assert.ErrorIs(t, mapped, other)
	assert.Contains(t, mapped.Error(), "select item")

	unknownCheck := mapError("insert", &pgconn.PgError{Code: "23514", ConstraintName: "some_other_check"})
	assert.NotErrorIs(t, unknownCheck, domain.ErrStockNegative)
	assert.NotErrorIs(t, unknownCheck, domain.ErrItemPriceInvalid)

	pgErr := &pgconn.PgError{Code: "40001"}
	assert.ErrorIs(t, mapError("update", pgErr), pgErr)
}

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23514"}))
	assert.False(t, isUniqueViolation(errors.New("plain")))
}
