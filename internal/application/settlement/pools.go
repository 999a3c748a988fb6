package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/nhowze/overunder/internal/domain"
	"github.com/nhowze/overunder/internal/ports"
)

// OpenPoolRequest describe una propuesta nueva.
type OpenPoolRequest struct {
	Key       domain.PoolKey
	Deadline  time.Time
	Authority domain.Address // publica el resultado; cero = el llamador
}

// OpenPool crea el ledger de un pool en su dirección derivada. Solo el admin
// puede abrir pools.
func (e *Engine) OpenPool(ctx context.Context, req OpenPoolRequest, caller domain.Address) (domain.Pool, error) {
	// autoridad primero: un extraño no aprende nada sobre la key
	if !e.isAdmin(caller) {
		return domain.Pool{}, fmt.Errorf("settlement.OpenPool: %w", domain.ErrUnauthorized)
	}
	if err := req.Key.Validate(); err != nil {
		return domain.Pool{}, fmt.Errorf("settlement.OpenPool: %w", err)
	}
	id := domain.DerivePoolID(req.Key)

	var pool domain.Pool
	err := e.execute(ctx, "OpenPool", []string{poolLock(id)}, func(u *unit) error {
		if !req.Deadline.After(u.now) {
			return domain.ErrDeadlinePassed
		}

		authority := req.Authority
		if authority == domain.ZeroAddress {
			authority = caller
		}
		pool = domain.NewPool(req.Key, req.Deadline.UTC(), authority, u.now)
		if err := u.tx.Pools().Insert(ctx, pool); err != nil {
			return fmt.Errorf("insert pool: %w", err)
		}
		u.emit(domain.Event{
			Type:  domain.EventPoolOpened,
			Pool:  ptr(pool.ID),
			Actor: caller,
		})
		return nil
	})
	if err != nil {
		return domain.Pool{}, err
	}
	return pool, nil
}

// PublishRequest es el reporte del oráculo para un pool.
type PublishRequest struct {
	Pool      domain.PoolID
	Outcome   domain.Outcome
	FinalStat uint32
}

// PublishResult lleva un pool pendiente a su resultado terminal. No calcula
// payouts; cada recibo se liquida cuando se reclama.
func (e *Engine) PublishResult(ctx context.Context, req PublishRequest, caller domain.Address) (domain.Pool, error) {
	var pool domain.Pool
	err := e.execute(ctx, "PublishResult", []string{poolLock(req.Pool)}, func(u *unit) error {
		p, err := u.tx.Pools().Get(ctx, req.Pool)
		if err != nil {
			return fmt.Errorf("load pool: %w", err)
		}
		if caller != p.Authority {
			return domain.ErrUnauthorized
		}
		if err := p.Publish(req.Outcome, req.FinalStat, u.now); err != nil {
			return err
		}
		if err := u.tx.Pools().Update(ctx, p); err != nil {
			return fmt.Errorf("update pool: %w", err)
		}
		pool = p
		u.emit(domain.Event{
			Type:    domain.EventResultPublished,
			Pool:    ptr(p.ID),
			Actor:   caller,
			Outcome: p.Result.String(),
			Amount:  uint64(p.FinalStat),
		})
		return nil
	})
	if err != nil {
		return domain.Pool{}, err
	}
	return pool, nil
}

// Pool devuelve el ledger de un pool.
func (e *Engine) Pool(ctx context.Context, id domain.PoolID) (domain.Pool, error) {
	var pool domain.Pool
	err := e.store.View(ctx, func(tx ports.Tx) error {
		var err error
		pool, err = tx.Pools().Get(ctx, id)
		return err
	})
	if err != nil {
		return domain.Pool{}, fmt.Errorf("settlement.Pool: %w", err)
	}
	return pool, nil
}

// Receipts devuelve todos los recibos de un pool.
func (e *Engine) Receipts(ctx context.Context, id domain.PoolID) ([]domain.Receipt, error) {
	var receipts []domain.Receipt
	err := e.store.View(ctx, func(tx ports.Tx) error {
		if _, err := tx.Pools().Get(ctx, id); err != nil {
			return err
		}
		var err error
		receipts, err = tx.Receipts().ListByPool(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("settlement.Receipts: %w", err)
	}
	return receipts, nil
}

// Receipt devuelve un recibo.
func (e *Engine) Receipt(ctx context.Context, id domain.ReceiptID) (domain.Receipt, error) {
	var r domain.Receipt
	err := e.store.View(ctx, func(tx ports.Tx) error {
		var err error
		r, err = tx.Receipts().Get(ctx, id)
		return err
	})
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("settlement.Receipt: %w", err)
	}
	return r, nil
}

// Balance devuelve el saldo fungible de una cuenta de custodia.
func (e *Engine) Balance(ctx context.Context, account domain.Account) (uint64, error) {
	var bal uint64
	err := e.store.View(ctx, func(tx ports.Tx) error {
		var err error
		bal, err = tx.Vault().Balance(ctx, account)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("settlement.Balance: %w", err)
	}
	return bal, nil
}

// Holding devuelve el registro de custodia del token de propiedad de un recibo.
func (e *Engine) Holding(ctx context.Context, token domain.TokenID) (domain.TokenHolding, error) {
	var h domain.TokenHolding
	err := e.store.View(ctx, func(tx ports.Tx) error {
		var err error
		h, err = tx.Tokens().Holding(ctx, token)
		return err
	})
	if err != nil {
		return domain.TokenHolding{}, fmt.Errorf("settlement.Holding: %w", err)
	}
	return h, nil
}
