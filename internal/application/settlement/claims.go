package settlement

import (
	"context"
	"fmt"

	"github.com/nhowze/overunder/internal/domain"
)

// ClaimRequest liquida un recibo. Recipient debe ser el titular actual del
// recibo, que después de una reventa es el comprador y no el apostador original.
type ClaimRequest struct {
	Pool      domain.PoolID
	Receipt   domain.ReceiptID
	Recipient domain.Address
}

// ClaimResult informa lo que pagó un claim.
type ClaimResult struct {
	Receipt    domain.Receipt
	Settlement domain.Settlement
}

// Claim liquida un recibo contra su pool publicado exactamente una vez. Un
// segundo intento falla con domain.ErrAlreadyClaimed y no mueve valor.
func (e *Engine) Claim(ctx context.Context, req ClaimRequest, caller domain.Address) (ClaimResult, error) {
	var res ClaimResult
	keys := []string{poolLock(req.Pool), receiptLock(req.Receipt)}
	err := e.execute(ctx, "Claim", keys, func(u *unit) error {
		r, err := u.tx.Receipts().Get(ctx, req.Receipt)
		if err != nil {
			return fmt.Errorf("load receipt: %w", err)
		}
		if r.Pool != req.Pool {
			return fmt.Errorf("%w: receipt belongs to another pool", domain.ErrUnauthorized)
		}
		if caller != r.Owner || req.Recipient != r.Owner {
			return fmt.Errorf("%w: only the current owner may claim", domain.ErrUnauthorized)
		}

		pool, err := u.tx.Pools().Get(ctx, req.Pool)
		if err != nil {
			return fmt.Errorf("load pool: %w", err)
		}
		if !pool.Settled {
			return domain.ErrPoolNotSettled
		}
		if r.Claimed {
			return domain.ErrAlreadyClaimed
		}
		if r.ForSale {
			return domain.ErrReceiptListed
		}

		holding, err := u.tx.Tokens().Holding(ctx, r.Token)
		if err != nil {
			return fmt.Errorf("load token: %w", err)
		}
		if holding.Holder != domain.UserAccount(caller) {
			return fmt.Errorf("%w: caller does not hold the receipt token", domain.ErrUnauthorized)
		}

		s, err := domain.Settle(pool, r)
		if err != nil {
			return err
		}

		if s.Payout > 0 {
			if err := u.tx.Vault().Transfer(ctx, domain.StakePot(pool.ID), domain.UserAccount(req.Recipient), s.Payout); err != nil {
				return fmt.Errorf("pay out: %w", err)
			}
			if pool.PaidOut, err = domain.CheckedAdd(pool.PaidOut, s.Payout); err != nil {
				return err
			}
			if err := u.tx.Pools().Update(ctx, pool); err != nil {
				return fmt.Errorf("update pool: %w", err)
			}
		}

		if err := r.MarkClaimed(s.Payout, u.now); err != nil {
			return err
		}
		if err := u.tx.Receipts().Update(ctx, r); err != nil {
			return fmt.Errorf("update receipt: %w", err)
		}

		res = ClaimResult{Receipt: r, Settlement: s}
		u.emit(domain.Event{
			Type:       domain.EventClaimed,
			Pool:       ptr(pool.ID),
			Receipt:    ptr(r.ID),
			Actor:      caller,
			Side:       r.Side.String(),
			Amount:     s.Payout,
			Settlement: s.Kind,
		})
		return nil
	})
	if err != nil {
		return ClaimResult{}, err
	}
	return res, nil
}

// WithdrawFees envía los fees acumulados de un pool liquidado a recipient y
// pone el acumulado a cero. Los saldos bajo el umbral de dust se quedan donde
// están y la llamada termina bien con cero retirado.
func (e *Engine) WithdrawFees(ctx context.Context, poolID domain.PoolID, recipient, caller domain.Address) (uint64, error) {
	var withdrawn uint64
	err := e.execute(ctx, "WithdrawFees", []string{poolLock(poolID)}, func(u *unit) error {
		if !e.isAdmin(caller) {
			return domain.ErrUnauthorized
		}
		pool, err := u.tx.Pools().Get(ctx, poolID)
		if err != nil {
			return fmt.Errorf("load pool: %w", err)
		}
		if err := pool.CheckFeeVault(); err != nil {
			return err
		}
		// stake + fees debe seguir cuadrando con el stake bruto mientras haya apuestas abiertas
		if !pool.Settled {
			return domain.ErrPoolNotSettled
		}
		if pool.FeesAccrued < e.cfg.DustThreshold || pool.FeesAccrued == 0 {
			return nil
		}

		amount := pool.FeesAccrued
		if err := u.tx.Vault().Transfer(ctx, domain.FeeVaultAccount(pool.FeeVault), domain.UserAccount(recipient), amount); err != nil {
			return fmt.Errorf("transfer fees: %w", err)
		}
		pool.FeesAccrued = 0
		if err := u.tx.Pools().Update(ctx, pool); err != nil {
			return fmt.Errorf("update pool: %w", err)
		}

		withdrawn = amount
		u.emit(domain.Event{
			Type:    domain.EventFeesWithdrawn,
			Pool:    ptr(pool.ID),
			Actor:   caller,
			Account: domain.UserAccount(recipient),
			Amount:  amount,
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return withdrawn, nil
}
