package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nhowze/overunder/internal/domain"
)

type vault struct{ tx *sql.Tx }

func (v vault) Balance(ctx context.Context, account domain.Account) (uint64, error) {
	var amount int64
	err := v.tx.QueryRowContext(ctx, `SELECT amount FROM balances WHERE account = ?`, string(account)).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("storage.Balance: %w", err)
	}
	return uint64(amount), nil
}

func (v vault) Credit(ctx context.Context, account domain.Account, amount uint64) error {
	if amount == 0 {
		return nil
	}
	bal, err := v.Balance(ctx, account)
	if err != nil {
		return err
	}
	next, err := domain.CheckedAdd(bal, amount)
	if err != nil {
		return fmt.Errorf("storage.Credit: %s: %w", account, err)
	}
	return v.set(ctx, account, next)
}

func (v vault) Transfer(ctx context.Context, from, to domain.Account, amount uint64) error {
	if amount == 0 {
		return nil
	}
	bal, err := v.Balance(ctx, from)
	if err != nil {
		return err
	}
	rest, err := domain.CheckedSub(bal, amount)
	if err != nil {
		return fmt.Errorf("storage.Transfer: %s has %d, needs %d: %w", from, bal, amount, err)
	}
	if from == to {
		return nil
	}
	if err := v.set(ctx, from, rest); err != nil {
		return err
	}
	return v.Credit(ctx, to, amount)
}

func (v vault) set(ctx context.Context, account domain.Account, amount uint64) error {
	_, err := v.tx.ExecContext(ctx, `
		INSERT INTO balances (account, amount) VALUES (?, ?)
		ON CONFLICT(account) DO UPDATE SET amount = excluded.amount`,
		string(account), u64(amount),
	)
	if err != nil {
		return fmt.Errorf("storage.setBalance: %w", err)
	}
	return nil
}

type tokenRegistry struct{ tx *sql.Tx }

func (t tokenRegistry) Mint(ctx context.Context, token domain.TokenID, holder domain.Account) error {
	if err := claimAddress(ctx, t.tx, token, domain.KindToken); err != nil {
		return fmt.Errorf("storage.Mint: %w", err)
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO tokens (token, holder, amount, delegate, close_authority) VALUES (?, ?, 1, ?, ?)`,
		token.Hex(), string(holder), domain.ZeroAddress.Hex(), domain.ZeroAddress.Hex(),
	)
	if err != nil {
		return fmt.Errorf("storage.Mint: %w", err)
	}
	return nil
}

func (t tokenRegistry) Holding(ctx context.Context, token domain.TokenID) (domain.TokenHolding, error) {
	var (
		holder, delegate, closeAuth string
		amount                      int64
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT holder, amount, delegate, close_authority FROM tokens WHERE token = ?`, token.Hex(),
	).Scan(&holder, &amount, &delegate, &closeAuth)
	if err != nil {
		return domain.TokenHolding{}, fmt.Errorf("storage.Holding: %w", notFound(err))
	}

	h := domain.TokenHolding{Token: token, Holder: domain.Account(holder), Amount: uint64(amount)}
	if h.Delegate, err = parseAddr(delegate); err != nil {
		return domain.TokenHolding{}, fmt.Errorf("storage.Holding: %w", err)
	}
	if h.CloseAuthority, err = parseAddr(closeAuth); err != nil {
		return domain.TokenHolding{}, fmt.Errorf("storage.Holding: %w", err)
	}
	return h, nil
}

func (t tokenRegistry) Move(ctx context.Context, token domain.TokenID, from, to domain.Account) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE tokens SET holder = ? WHERE token = ? AND holder = ?`,
		string(to), token.Hex(), string(from),
	)
	if err != nil {
		return fmt.Errorf("storage.Move: %w", err)
	}
	if err := expectOne(res, "storage.Move"); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("storage.Move: %w: %s does not hold %s", domain.ErrUnauthorized, from, token.Hex())
		}
		return err
	}
	return nil
}
