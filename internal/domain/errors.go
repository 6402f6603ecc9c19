package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrStockRecordNotFound     = errors.New("stock record not found")
	ErrStockRecordExists       = errors.New("stock record already exists")
	ErrOrderNotFound           = errors.New("order not found")
	ErrAlertNotFound           = errors.New("alert not found")
	ErrAlertAlreadyResolved    = errors.New("alert already resolved")
	ErrReservationNotFound     = errors.New("reservation not found")
	ErrReservationExpired      = errors.New("reservation expired")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
)

// ValidationError 请求格式错误，在任何库存操作之前被拒绝
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError 创建校验错误
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ProductUnavailableError 引用的商品不存在或已下架
type ProductUnavailableError struct {
	ProductIDs []int64
}

func (e *ProductUnavailableError) Error() string {
	ids := make([]string, len(e.ProductIDs))
	for i, id := range e.ProductIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	return fmt.Sprintf("some products unavailable: [%s]", strings.Join(ids, ","))
}

// InsufficientStockError 某个订单行扣减失败，Available 为失败时刻的可售数量
type InsufficientStockError struct {
	ProductID int64
	Title     string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	name := e.Title
	if name == "" {
		name = "product " + strconv.FormatInt(e.ProductID, 10)
	}
	return fmt.Sprintf("only %d left of %s, you requested %d", e.Available, name, e.Requested)
}

// Shortfall 返回缺口数量
func (e *InsufficientStockError) Shortfall() int {
	return e.Requested - e.Available
}

// PersistenceError 库存已扣减之后订单落库失败
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsValidation 判断是否为校验错误
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound 判断是否为资源不存在错误
func IsNotFound(err error) bool {
	return errors.Is(err, ErrStockRecordNotFound) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrAlertNotFound) ||
		errors.Is(err, ErrReservationNotFound)
}
