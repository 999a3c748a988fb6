package settlement

import (
	"context"
	"fmt"

	"github.com/nhowze/overunder/internal/domain"
)

// PlaceBetRequest es un stake sobre un pool. Nonce distingue varias apuestas
// del mismo apostador en el mismo pool.
type PlaceBetRequest struct {
	Pool  domain.PoolID
	Gross uint64
	Side  domain.Side
	Nonce uint64
}

// PlaceBet debita el stake bruto al apostador, retiene el fee en el fee vault
// del pool, suma el stake neto al pot y al total del lado, y emite el recibo
// con su token de propiedad para el apostador.
func (e *Engine) PlaceBet(ctx context.Context, req PlaceBetRequest, bettor domain.Address) (domain.Receipt, error) {
	var receipt domain.Receipt
	err := e.execute(ctx, "PlaceBet", []string{poolLock(req.Pool)}, func(u *unit) error {
		if req.Gross == 0 {
			return domain.ErrInvalidAmount
		}
		pool, err := u.tx.Pools().Get(ctx, req.Pool)
		if err != nil {
			return fmt.Errorf("load pool: %w", err)
		}
		if pool.Settled {
			return domain.ErrPoolSettled
		}
		if !pool.BettingOpen(u.now) {
			return domain.ErrBettingClosed
		}
		if err := pool.CheckFeeVault(); err != nil {
			return err
		}

		fee, net, err := domain.SplitBPS(req.Gross, e.cfg.FeeBPS)
		if err != nil {
			return err
		}

		from := domain.UserAccount(bettor)
		vault := u.tx.Vault()
		if err := vault.Transfer(ctx, from, domain.FeeVaultAccount(pool.FeeVault), fee); err != nil {
			return fmt.Errorf("collect fee: %w", err)
		}
		if err := vault.Transfer(ctx, from, domain.StakePot(pool.ID), net); err != nil {
			return fmt.Errorf("escrow stake: %w", err)
		}

		if err := pool.AddStake(req.Side, net); err != nil {
			return err
		}
		if pool.FeesAccrued, err = domain.CheckedAdd(pool.FeesAccrued, fee); err != nil {
			return err
		}
		if err := u.tx.Pools().Update(ctx, pool); err != nil {
			return fmt.Errorf("update pool: %w", err)
		}

		receipt = domain.NewReceipt(pool.ID, bettor, req.Side, net, req.Nonce, u.now)
		if err := u.tx.Receipts().Insert(ctx, receipt); err != nil {
			return fmt.Errorf("insert receipt: %w", err)
		}
		if err := u.tx.Tokens().Mint(ctx, receipt.Token, from); err != nil {
			return fmt.Errorf("mint token: %w", err)
		}

		u.emit(domain.Event{
			Type:    domain.EventBetPlaced,
			Pool:    ptr(pool.ID),
			Receipt: ptr(receipt.ID),
			Actor:   bettor,
			Side:    req.Side.String(),
			Amount:  net,
			Fee:     fee,
		})
		return nil
	})
	if err != nil {
		return domain.Receipt{}, err
	}
	return receipt, nil
}

// Deposit acredita la cuenta de custodia de un principal. Hace las veces de la
// emisión externa de valor fungible y está restringido al admin.
func (e *Engine) Deposit(ctx context.Context, to domain.Address, amount uint64, caller domain.Address) error {
	account := domain.UserAccount(to)
	return e.execute(ctx, "Deposit", []string{"account:" + string(account)}, func(u *unit) error {
		if !e.isAdmin(caller) {
			return domain.ErrUnauthorized
		}
		if amount == 0 {
			return domain.ErrInvalidAmount
		}
		if err := u.tx.Vault().Credit(ctx, account, amount); err != nil {
			return fmt.Errorf("credit: %w", err)
		}
		u.emit(domain.Event{
			Type:    domain.EventDeposited,
			Actor:   caller,
			Account: account,
			Amount:  amount,
		})
		return nil
	})
}
