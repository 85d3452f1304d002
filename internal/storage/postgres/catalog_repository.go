package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type catalogRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewCatalogRepository создаёт PostgreSQL-реализацию CatalogRepository.
func NewCatalogRepository(store *Store) domain.CatalogRepository {
	return &catalogRepository{db: store.DB(), now: store.now}
}

func (r *catalogRepository) GetItem(ctx context.Context, id string) (domain.StockItem, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	item, err := scanItem(r.db.QueryRowContext(ctx, `
		SELECT id, name, price, stock, version, updated_at
		FROM catalog_items
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockItem{}, domain.ErrItemNotFound
		}
		return domain.StockItem{}, mapError("select item", err)
	}
	return item, nil
}

func (r *catalogRepository) PutItem(ctx context.Context, item domain.StockItem) (domain.StockItem, error) {
	item.ID = strings.TrimSpace(item.ID)
	if errs := item.Validate(); len(errs) > 0 {
		return domain.StockItem{}, fmt.Errorf("invalid item %q: %w", item.ID, errs[0])
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	stored, err := scanItem(r.db.QueryRowContext(ctx, `
		INSERT INTO catalog_items (id, name, price, stock, version, updated_at)
		VALUES ($1,$2,$3,$4,1,$5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    price = EXCLUDED.price,
		    stock = EXCLUDED.stock,
		    version = catalog_items.version + 1,
		    updated_at = EXCLUDED.updated_at
		RETURNING id, name, price, stock, version, updated_at
	`, item.ID, item.Name, item.Price, item.Stock, r.now()))
	if err != nil {
		return domain.StockItem{}, mapError("upsert item", err)
	}
	return stored, nil
}

func (r *catalogRepository) SetPrice(ctx context.Context, id string, price decimal.Decimal) (domain.StockItem, error) {
	if !domain.ValidPrice(price) {
		return domain.StockItem{}, domain.ErrItemPriceInvalid
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	item, err := scanItem(r.db.QueryRowContext(ctx, `
		UPDATE catalog_items
		SET price = $2,
		    version = version + 1,
		    updated_at = $3
		WHERE id = $1
		RETURNING id, name, price, stock, version, updated_at
	`, id, price, r.now()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockItem{}, domain.ErrItemNotFound
		}
		return domain.StockItem{}, mapError("update price", err)
	}
	return item, nil
}

var _ domain.CatalogRepository = (*catalogRepository)(nil)
