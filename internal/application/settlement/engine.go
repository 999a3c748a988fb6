// Package settlement es el motor contable del venue de apuestas: ciclo de vida
// de los pools, contabilidad de stakes, cobro de fees, payouts perezosos por
// claim y el mercado de reventa en escrow. Cada operación pública corre como
// una transacción atómica del store; una precondición fallida no deja rastro.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nhowze/overunder/internal/domain"
	"github.com/nhowze/overunder/internal/ports"
)

const (
	DefaultFeeBPS        = 500 // 5%
	DefaultRoyaltyBPS    = 250 // 2.5%
	DefaultDustThreshold = 1_000
	defaultLockTTL       = 10 * time.Second
)

// Config contiene los parámetros del motor fijados al desplegar.
type Config struct {
	Admin         domain.Address // abre pools, retira fees, fondea cuentas
	RoyaltySink   domain.Address // recibe los royalties de reventa; por defecto Admin
	FeeBPS        uint32
	RoyaltyBPS    uint32
	DustThreshold uint64 // saldos de fees por debajo no se retiran
	LockTTL       time.Duration
}

// Validate comprueba la config y rellena los defaults.
func (c *Config) Validate() error {
	if c.Admin == domain.ZeroAddress {
		return fmt.Errorf("settlement: admin address is required")
	}
	if c.FeeBPS > domain.BPSDenominator {
		return fmt.Errorf("settlement: fee_bps %d exceeds %d", c.FeeBPS, domain.BPSDenominator)
	}
	if c.RoyaltyBPS > domain.BPSDenominator {
		return fmt.Errorf("settlement: royalty_bps %d exceeds %d", c.RoyaltyBPS, domain.BPSDenominator)
	}
	if c.RoyaltySink == domain.ZeroAddress {
		c.RoyaltySink = c.Admin
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaultLockTTL
	}
	return nil
}

// Engine ejecuta las operaciones del venue contra un store.
type Engine struct {
	store  ports.Store
	clock  ports.Clock
	locker ports.Locker
	sink   ports.EventSink
	cfg    Config
}

// Option personaliza un Engine.
type Option func(*Engine)

// WithClock reemplaza el reloj del sistema.
func WithClock(c ports.Clock) Option { return func(e *Engine) { e.clock = c } }

// WithEventSink define dónde se publican los eventos confirmados.
func WithEventSink(s ports.EventSink) Option { return func(e *Engine) { e.sink = s } }

// New crea un motor. La config se valida y se completa con defaults.
func New(store ports.Store, locker ports.Locker, cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		store:  store,
		clock:  ports.SystemClock{},
		locker: locker,
		cfg:    cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config devuelve la config validada del motor.
func (e *Engine) Config() Config { return e.cfg }

// unit es una operación atómica en curso.
type unit struct {
	tx     ports.Tx
	now    time.Time
	events []domain.Event
}

func (u *unit) emit(ev domain.Event) {
	ev.ID = uuid.New().String()
	ev.At = u.now
	u.events = append(u.events, ev)
}

// execute toma los locks de keys en orden, ejecuta fn de forma atómica y
// publica los eventos que produjo fn una vez hecho el commit.
func (e *Engine) execute(ctx context.Context, op string, keys []string, fn func(u *unit) error) error {
	for _, key := range keys {
		unlock, err := e.locker.Acquire(ctx, key, e.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("settlement.%s: lock %s: %w", op, key, err)
		}
		defer unlock()
	}

	var committed []domain.Event
	now := e.clock.Now()
	if err := e.store.Atomic(ctx, func(tx ports.Tx) error {
		u := &unit{tx: tx, now: now}
		if err := fn(u); err != nil {
			return err
		}
		committed = u.events
		return nil
	}); err != nil {
		return fmt.Errorf("settlement.%s: %w", op, err)
	}

	for _, ev := range committed {
		slog.Info("settlement: committed",
			"op", op,
			"event", ev.Type,
			"actor", ev.Actor.Hex(),
			"amount", ev.Amount,
		)
	}
	if e.sink != nil && len(committed) > 0 {
		if err := e.sink.Publish(ctx, committed...); err != nil {
			slog.Warn("settlement: publish events failed", "op", op, "err", err)
		}
	}
	return nil
}

func poolLock(id domain.PoolID) string          { return "pool:" + id.Hex() }
func receiptLock(id domain.ReceiptID) string    { return "receipt:" + id.Hex() }
func ptr[T any](v T) *T                         { return &v }
func (e *Engine) isAdmin(a domain.Address) bool { return a == e.cfg.Admin }
