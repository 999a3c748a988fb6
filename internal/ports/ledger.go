package ports

import (
	"context"

	"github.com/nhowze/overunder/internal/domain"
)

// Store ejecuta operaciones como unidades atómicas: o se confirman todas las
// escrituras hechas a través del Tx, o ninguna.
type Store interface {
	// Atomic ejecuta fn dentro de una transacción. Cualquier error de fn hace
	// rollback y se devuelve tal cual (los errores envueltos conservan su
	// sentinel para errors.Is).
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	// View ejecuta fn contra un snapshot de solo lectura.
	View(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}

// Tx agrupa los colaboradores disponibles dentro de una unidad atómica.
type Tx interface {
	Pools() PoolRepository
	Receipts() ReceiptRepository
	Listings() ListingRepository
	Vault() Vault
	Tokens() TokenRegistry
}

// PoolRepository persiste los ledgers de pool en su dirección derivada.
type PoolRepository interface {
	// Insert falla con domain.ErrAlreadyExists si la dirección está ocupada.
	Insert(ctx context.Context, p domain.Pool) error
	Get(ctx context.Context, id domain.PoolID) (domain.Pool, error)
	Update(ctx context.Context, p domain.Pool) error
	// List devuelve todos los pools, los más antiguos primero.
	List(ctx context.Context) ([]domain.Pool, error)
}

// ReceiptRepository persiste los recibos de apuesta en su dirección derivada.
type ReceiptRepository interface {
	// Insert falla con domain.ErrAlreadyExists si la dirección está ocupada.
	Insert(ctx context.Context, r domain.Receipt) error
	Get(ctx context.Context, id domain.ReceiptID) (domain.Receipt, error)
	Update(ctx context.Context, r domain.Receipt) error
	ListByPool(ctx context.Context, pool domain.PoolID) ([]domain.Receipt, error)
}

// ListingRepository persiste los listings activos en escrow, uno por recibo.
type ListingRepository interface {
	Insert(ctx context.Context, l domain.Listing) error
	Get(ctx context.Context, receipt domain.ReceiptID) (domain.Listing, error)
	Delete(ctx context.Context, receipt domain.ReceiptID) error
}
