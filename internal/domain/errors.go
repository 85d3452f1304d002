package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyBasket возвращается, если корзина пуста или отсутствует.
	ErrEmptyBasket = errors.New("basket is empty")
	// ErrMalformedLine — базовая ошибка некорректной строки корзины.
	ErrMalformedLine = errors.New("malformed basket line")
	// ErrItemNotFound — товар из корзины отсутствует в каталоге.
	ErrItemNotFound = errors.New("item not found")
	// ErrInsufficientStock — остатка не хватает на запрошенное количество.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrTransactionFailed — сбой хранилища внутри транзакции резервирования.
	ErrTransactionFailed = errors.New("transaction failed")

	// Ошибка отсутствующего владельца заказа.
	ErrOwnerRequired = errors.New("owner_id is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrLinesRequired = errors.New("order must contain at least one line")
	// Ошибка при некорректном количестве (<= 0).
	ErrLineQtyInvalid = errors.New("line quantity must be greater than zero")
	// Ошибка, если цена позиции не положительная.
	ErrLinePriceInvalid = errors.New("line unit price must be positive")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrTotalMismatch = errors.New("order total does not match lines sum")
	// Ошибка некорректной цены товара в каталоге.
	ErrItemPriceInvalid = errors.New("item price must be positive with at most 2 decimal places")
	// Ошибка отсутствующего идентификатора товара.
	ErrItemIDRequired = errors.New("item id is required")

	// ErrStockNegative возвращается при попытке записать отрицательный остаток.
	ErrStockNegative = errors.New("stock must be non-negative")
	// ErrStockConflict сигнализирует, что версия товара изменилась между чтением и записью.
	ErrStockConflict = errors.New("stock version conflict")
	// ErrTxDone возвращается при работе с уже завершённой транзакцией.
	ErrTxDone = errors.New("transaction already committed or rolled back")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists — заказ с таким ID уже сохранён.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
	// ErrIdempotencyKeyAlreadyExists — ключ уже использован с тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ уже использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyInProgress — запрос с тем же ключом ещё обрабатывается.
	ErrIdempotencyInProgress = errors.New("request with the same idempotency key is in progress")
)

// MalformedLineError описывает строку корзины, не прошедшую валидацию.
type MalformedLineError struct {
	Index  int
	Reason string
}

func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Index, e.Reason)
}

func (e *MalformedLineError) Unwrap() error { return ErrMalformedLine }

// ItemNotFoundError указывает, какой товар не найден.
type ItemNotFoundError struct {
	ItemID string
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("item %s not found", e.ItemID)
}

func (e *ItemNotFoundError) Unwrap() error { return ErrItemNotFound }

// InsufficientStockError несёт запрошенное и доступное количество.
type InsufficientStockError struct {
	ItemID    string
	Requested int32
	Available int32
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %s: requested %d, available %d", e.ItemID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// TransactionFailedError оборачивает причину сбоя хранилища.
// errors.Is срабатывает и на ErrTransactionFailed, и на исходную причину.
type TransactionFailedError struct {
	Op  string
	Err error
}

func (e *TransactionFailedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transaction failed: %s", e.Op)
	}
	return fmt.Sprintf("transaction failed: %s: %v", e.Op, e.Err)
}

func (e *TransactionFailedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTransactionFailed}
	}
	return []error{ErrTransactionFailed, e.Err}
}

// IsStockConflict проверяет, является ли ошибка конфликтом версий остатка.
func IsStockConflict(err error) bool {
	return errors.Is(err, ErrStockConflict)
}

// IsIdempotencyConflict сообщает, что ключ идемпотентности уже занят.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// ErrorKind — стабильное имя категории ошибки для внешних контрактов и кеша идемпотентности.
type ErrorKind string

const (
	ErrorKindEmptyBasket       ErrorKind = "EMPTY_BASKET"
	ErrorKindMalformedLine     ErrorKind = "MALFORMED_LINE"
	ErrorKindItemNotFound      ErrorKind = "ITEM_NOT_FOUND"
	ErrorKindInsufficientStock ErrorKind = "INSUFFICIENT_STOCK"
	ErrorKindTransactionFailed ErrorKind = "TRANSACTION_FAILED"
	ErrorKindOwnerRequired     ErrorKind = "OWNER_REQUIRED"
	ErrorKindUnknown           ErrorKind = "UNKNOWN"
)

// KindOf классифицирует ошибку резервирования.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyBasket):
		return ErrorKindEmptyBasket
	case errors.Is(err, ErrMalformedLine):
		return ErrorKindMalformedLine
	case errors.Is(err, ErrItemNotFound):
		return ErrorKindItemNotFound
	case errors.Is(err, ErrInsufficientStock):
		return ErrorKindInsufficientStock
	case errors.Is(err, ErrTransactionFailed):
		return ErrorKindTransactionFailed
	case errors.Is(err, ErrOwnerRequired):
		return ErrorKindOwnerRequired
	default:
		return ErrorKindUnknown
	}
}

// IsBusinessError — ошибки, детерминированно вызванные содержимым запроса и состоянием каталога.
func IsBusinessError(err error) bool {
	switch KindOf(err) {
	case ErrorKindEmptyBasket, ErrorKindMalformedLine, ErrorKindItemNotFound,
		ErrorKindInsufficientStock, ErrorKindOwnerRequired:
		return true
	default:
		return false
	}
}
