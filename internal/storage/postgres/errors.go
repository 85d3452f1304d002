package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// SQLSTATE коды, которые переводятся в доменные ошибки.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateCheckViolation       = "23514"
	sqlStateUniqueViolation      = "23505"
)

// checkViolations сопоставляет имена CHECK-ограничений из миграций доменным ошибкам.
var checkViolations = map[string]error{
	"catalog_items_price_positive":     domain.ErrItemPriceInvalid,
	"catalog_items_stock_non_negative": domain.ErrStockNegative,
	"order_lines_quantity_positive":    domain.ErrLineQtyInvalid,
	"order_lines_unit_price_positive":  domain.ErrLinePriceInvalid,
}

// mapError переводит ошибки драйвера в доменные, сохраняя исходную ошибку в цепочке.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrTxDone) {
		return domain.ErrTxDone
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateSerializationFailure, sqlStateDeadlockDetected:
			return fmt.Errorf("%s: %w", op, errors.Join(domain.ErrStockConflict, err))
		case sqlStateCheckViolation:
			if target, ok := checkViolations[pgErr.ConstraintName]; ok {
				return fmt.Errorf("%s: %w", op, errors.Join(target, err))
			}
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == sqlStateUniqueViolation
	}
	return false
}
