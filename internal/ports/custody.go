package ports

import (
	"context"
	"time"

	"github.com/nhowze/overunder/internal/domain"
)

// Vault mueve valor fungible entre cuentas de custodia. Las transferencias son
// todo o nada y fallan con domain.ErrInsufficientFunds si el origen no cubre
// el monto.
type Vault interface {
	Balance(ctx context.Context, account domain.Account) (uint64, error)
	Credit(ctx context.Context, account domain.Account, amount uint64) error
	Transfer(ctx context.Context, from, to domain.Account, amount uint64) error
}

// TokenRegistry emite y mueve los tokens de propiedad (no fungibles).
type TokenRegistry interface {
	// Mint emite un token de una unidad para holder. Falla con
	// domain.ErrAlreadyExists si la dirección del token está ocupada.
	Mint(ctx context.Context, token domain.TokenID, holder domain.Account) error

	// Holding devuelve el registro de custodia de un token.
	Holding(ctx context.Context, token domain.TokenID) (domain.TokenHolding, error)

	// Move transfiere el token de su holder actual a otra cuenta.
	// Falla con domain.ErrUnauthorized si from no es el holder actual.
	Move(ctx context.Context, token domain.TokenID, from, to domain.Account) error
}

// Clock lee la hora actual.
type Clock interface {
	Now() time.Time
}

// SystemClock es el reloj del sistema.
type SystemClock struct{}

// Now devuelve time.Now en UTC.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
