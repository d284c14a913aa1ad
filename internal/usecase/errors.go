package usecase

import (
	"errors"
	"fmt"

	"shopapi/internal/domain/model"
)

// ErrorKind はusecaseが返すエラーの種類。HTTPステータスへの対応はhandlerが持つ。
type ErrorKind string

const (
	KindNotFound          ErrorKind = "NOT_FOUND"
	KindInvalidQuantity   ErrorKind = "INVALID_QUANTITY"
	KindEmptyCart         ErrorKind = "EMPTY_CART"
	KindInsufficientStock ErrorKind = "INSUFFICIENT_STOCK"
	KindForbidden         ErrorKind = "FORBIDDEN"
	KindInvalidState      ErrorKind = "INVALID_STATE"
	KindConflict          ErrorKind = "CONFLICT"
	KindValidation        ErrorKind = "VALIDATION"
	KindUnauthorized      ErrorKind = "UNAUTHORIZED"
	KindInternal          ErrorKind = "INTERNAL"
)

type Error struct {
	Kind    ErrorKind
	Message string
	// InsufficientStockのときの商品名
	Product string
	// 内部エラーの元
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind ErrorKind, message string) error {
	return &Error{Kind: kind, Message: message}
}

func AsError(err error) (*Error, bool) {
	var ue *Error
	ok := errors.As(err, &ue)
	return ue, ok
}

// *Error以外はINTERNAL
func KindOf(err error) ErrorKind {
	if ue, ok := AsError(err); ok {
		return ue.Kind
	}
	return KindInternal
}

func errNotFound(what string) error {
	return &Error{Kind: KindNotFound, Message: what + " not found"}
}

func errInvalidQuantity() error {
	return &Error{
		Kind:    KindInvalidQuantity,
		Message: fmt.Sprintf("quantity must be between 1 and %d", model.MaxCartQuantity),
	}
}

func errInsufficientStock(product string) error {
	return &Error{
		Kind:    KindInsufficientStock,
		Message: "insufficient stock for " + product,
		Product: product,
	}
}

func errForbidden() error {
	return &Error{Kind: KindForbidden, Message: "forbidden"}
}

func errValidation(message string) error {
	return &Error{Kind: KindValidation, Message: message}
}

func errInternal(err error) error {
	return &Error{Kind: KindInternal, Message: "db error", Err: err}
}

// 既に*Errorならそのまま、それ以外は内部エラーに包む
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsError(err); ok {
		return err
	}
	return errInternal(err)
}

// Actor は境界（JWTミドルウェア）で解決された呼び出し元。
type Actor struct {
	UserID string
	Role   model.Role
}

func (a Actor) IsAdmin() bool {
	return a.Role == model.RoleAdmin
}

// 本人か管理者なら見られる
func (a Actor) CanAccess(ownerID string) bool {
	return a.IsAdmin() || a.UserID == ownerID
}

func requireActor(a Actor) error {
	if a.UserID == "" {
		return &Error{Kind: KindUnauthorized, Message: "unauthorized"}
	}
	return nil
}

func requireAdmin(a Actor) error {
	if err := requireActor(a); err != nil {
		return err
	}
	if !a.IsAdmin() {
		return errForbidden()
	}
	return nil
}
