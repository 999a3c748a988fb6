package domain

import (
	"errors"
	"fmt"
)

// Errores de argumentos al crear.
var (
	ErrInvalidFixture  = errors.New("fixture id must be non-zero")
	ErrInvalidStatLine = errors.New("stat line must be non-zero")
	ErrDeadlinePassed  = errors.New("betting deadline must be in the future")
	ErrInvalidAmount   = errors.New("amount must be non-zero")
)

// ErrBettingClosed se devuelve cuando una apuesta llega después del deadline.
// Coincide con ErrDeadlinePassed vía errors.Is.
var ErrBettingClosed = fmt.Errorf("betting closed: %w", ErrDeadlinePassed)

// Errores de autoridad y de ciclo de vida.
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrAlreadyExists    = errors.New("already exists")
	ErrNotFound         = errors.New("not found")
	ErrAlreadyPublished = errors.New("result already published")
	ErrInvalidResult    = errors.New("result does not match final stat")
	ErrPoolNotSettled   = errors.New("bet pool has not been settled yet")
	ErrPoolSettled      = errors.New("bet pool is already settled")
	ErrAlreadyClaimed   = errors.New("receipt has already been claimed")
	ErrInvalidFeeVault  = errors.New("fee vault address does not match")
)

// Errores del mercado de escrow.
var (
	ErrReceiptListed            = errors.New("receipt is listed for sale")
	ErrNotListed                = errors.New("receipt is not listed for sale")
	ErrInvalidTokenBalance      = errors.New("escrowed token balance must be exactly 1")
	ErrUnexpectedDelegate       = errors.New("escrowed token has an unexpected delegate")
	ErrUnexpectedCloseAuthority = errors.New("escrowed token has an unexpected close authority")
)

// Errores de custodia y aritméticos. Ambas guardas aritméticas abortan la operación.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOverflow          = errors.New("arithmetic overflow")
	ErrDivisionByZero    = errors.New("division by zero")
)
