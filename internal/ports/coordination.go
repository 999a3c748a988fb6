package ports

import (
	"context"
	"time"

	"github.com/nhowze/overunder/internal/domain"
)

// Locker serializa las operaciones sobre la misma key entre llamadores.
type Locker interface {
	// Acquire bloquea hasta tener el lock o hasta que ctx termine. La función
	// devuelta libera el lock y se puede llamar más de una vez.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// EventSink recibe los eventos después de que la operación que los produjo
// haga commit.
type EventSink interface {
	Publish(ctx context.Context, events ...domain.Event) error
}

// NonceStore recuerda los nonces de las requests para que una request firmada
// se sirva una sola vez.
type NonceStore interface {
	// Remember registra key durante ttl. Devuelve false si key ya estaba
	// registrada y no ha expirado.
	Remember(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
