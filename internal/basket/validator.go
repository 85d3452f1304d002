// Package basket проверяет сырые строки корзины и превращает их в domain.BasketLine.
package basket

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	// DefaultMaxLines ограничивает размер одной корзины.
	DefaultMaxLines = 100
	// MaxItemIDLength — максимальная длина идентификатора товара в байтах.
	MaxItemIDLength = 128
)

// RawLine — строка корзины в том виде, в котором её прислал клиент.
type RawLine struct {
	ItemID   string      `json:"itemId"`
	Quantity json.Number `json:"quantity"`
}

// Validator проверяет корзину целиком. Нулевое значение использует DefaultMaxLines.
type Validator struct {
	MaxLines int
}

// Validate проверяет корзину валидатором по умолчанию.
func Validate(raw []RawLine) ([]domain.BasketLine, error) {
	return Validator{}.Validate(raw)
}

// Validate возвращает строки в исходном порядке, дубликаты сохраняются.
// Первая некорректная строка прерывает проверку.
func (v Validator) Validate(raw []RawLine) ([]domain.BasketLine, error) {
	if len(raw) == 0 {
		return nil, domain.ErrEmptyBasket
	}

	maxLines := v.MaxLines
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	if len(raw) > maxLines {
		return nil, &domain.MalformedLineError{
			Index:  maxLines,
			Reason: fmt.Sprintf("basket exceeds %d lines", maxLines),
		}
	}

	lines := make([]domain.BasketLine, 0, len(raw))
	for idx, entry := range raw {
		line, err := validateLine(idx, entry)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}

	return lines, nil
}

func validateLine(idx int, entry RawLine) (domain.BasketLine, error) {
	itemID := strings.TrimSpace(entry.ItemID)
	if itemID == "" {
		return domain.BasketLine{}, &domain.MalformedLineError{Index: idx, Reason: "item id is required"}
	}
	if len(itemID) > MaxItemIDLength {
		return domain.BasketLine{}, &domain.MalformedLineError{
			Index:  idx,
			Reason: fmt.Sprintf("item id longer than %d bytes", MaxItemIDLength),
		}
	}

	rawQty := strings.TrimSpace(entry.Quantity.String())
	if rawQty == "" {
		return domain.BasketLine{}, &domain.MalformedLineError{Index: idx, Reason: "quantity is required"}
	}

	// ParseInt отвергает дробные значения и экспоненциальную запись.
	qty, err := strconv.ParseInt(rawQty, 10, 64)
	if err != nil {
		return domain.BasketLine{}, &domain.MalformedLineError{
			Index:  idx,
			Reason: fmt.Sprintf("quantity %q is not an integer", rawQty),
		}
	}
	if qty <= 0 {
		return domain.BasketLine{}, &domain.MalformedLineError{Index: idx, Reason: "quantity must be greater than zero"}
	}
	if qty > math.MaxInt32 {
		return domain.BasketLine{}, &domain.MalformedLineError{Index: idx, Reason: "quantity is too large"}
	}

	return domain.BasketLine{ItemID: itemID, Quantity: int32(qty)}, nil
}
