package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nhowze/overunder/internal/adapters/storage"
	"github.com/nhowze/overunder/internal/domain"
	"github.com/nhowze/overunder/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = domain.Address{0xa1}
	bob   = domain.Address{0xb0}
	admin = domain.Address{0xad}
)

func newStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func makePool(fixture uint64) domain.Pool {
	key := domain.PoolKey{
		FixtureID:  fixture,
		Sport:      "NBA",
		Subject:    domain.Address{0x23},
		StatMetric: "points",
		Threshold:  25,
	}
	now := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	return domain.NewPool(key, now.Add(2*time.Hour), admin, now)
}

func TestSQLiteStorage_PoolRoundTrip(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	p := makePool(42)
	p.StakeOver = 1 << 63 // high bit survives the signed column
	p.FeesAccrued = 35

	require.NoError(t, db.Atomic(ctx, func(tx ports.Tx) error {
		return tx.Pools().Insert(ctx, p)
	}))

	var got domain.Pool
	require.NoError(t, db.View(ctx, func(tx ports.Tx) error {
		var err error
		got, err = tx.Pools().Get(ctx, p.ID)
		return err
	}))

	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, p.Key, got.Key)
	assert.Equal(t, uint64(1<<63), got.StakeOver)
	assert.Equal(t, uint64(35), got.FeesAccrued)
	assert.Equal(t, domain.OutcomePending, got.Result)
	assert.Equal(t, p.FeeVault, got.FeeVault)
	assert.True(t, p.Deadline.Equal(got.Deadline))
	assert.Nil(t, got.SettledAt)
	assert.NoError(t, got.CheckFeeVault())
}

func TestSQLiteStorage_PoolAddressOccupied(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	p := makePool(7)

	insert := func() error {
		return db.Atomic(ctx, func(tx ports.Tx) error { return tx.Pools().Insert(ctx, p) })
	}
	require.NoError(t, insert())
	assert.ErrorIs(t, insert(), domain.ErrAlreadyExists)

	tag, err := db.AddressKind(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.KindPool.Discriminator(), tag)

	tag, err = db.AddressKind(ctx, p.FeeVault)
	require.NoError(t, err)
	assert.Equal(t, domain.KindFeeVault.Discriminator(), tag)
}

func TestSQLiteStorage_GetMissing(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	err := db.View(ctx, func(tx ports.Tx) error {
		_, err := tx.Pools().Get(ctx, domain.Hash{0x01})
		return err
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = db.View(ctx, func(tx ports.Tx) error {
		_, err := tx.Receipts().Get(ctx, domain.Hash{0x02})
		return err
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = db.View(ctx, func(tx ports.Tx) error {
		_, err := tx.Listings().Get(ctx, domain.Hash{0x03})
		return err
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLiteStorage_AtomicRollsBack(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.Atomic(ctx, func(tx ports.Tx) error {
		if err := tx.Vault().Credit(ctx, domain.UserAccount(alice), 500); err != nil {
			return err
		}
		if err := tx.Pools().Insert(ctx, makePool(1)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, db.View(ctx, func(tx ports.Tx) error {
		bal, err := tx.Vault().Balance(ctx, domain.UserAccount(alice))
		require.NoError(t, err)
		assert.Zero(t, bal)
		_, err = tx.Pools().Get(ctx, makePool(1).ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		return nil
	}))
}

func TestSQLiteStorage_Receipts(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	p := makePool(9)
	placed := p.CreatedAt.Add(time.Minute)

	r1 := domain.NewReceipt(p.ID, alice, domain.SideOver, 950, 0, placed)
	r2 := domain.NewReceipt(p.ID, bob, domain.SideUnder, 475, 0, placed.Add(time.Second))

	require.NoError(t, db.Atomic(ctx, func(tx ports.Tx) error {
		if err := tx.Pools().Insert(ctx, p); err != nil {
			return err
		}
		if err := tx.Receipts().Insert(ctx, r1); err != nil {
			return err
		}
		return tx.Receipts().Insert(ctx, r2)
	}))

	// nonce reuse lands on the same address
	err := db.Atomic(ctx, func(tx ports.Tx) error { return tx.Receipts().Insert(ctx, r1) })
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	r1.Owner = bob
	require.NoError(t, r1.MarkClaimed(1425, placed.Add(time.Hour)))
	require.NoError(t, db.Atomic(ctx, func(tx ports.Tx) error { return tx.Receipts().Update(ctx, r1) }))

	var list []domain.Receipt
	require.NoError(t, db.View(ctx, func(tx ports.Tx) error {
		var err error
		list, err = tx.Receipts().ListByPool(ctx, p.ID)
		return err
	}))
	require.Len(t, list, 2)
	assert.Equal(t, r1.ID, list[0].ID)
	assert.Equal(t, bob, list[0].Owner)
	assert.Equal(t, alice, list[0].Bettor)
	assert.True(t, list[0].Claimed)
	assert.Equal(t, uint64(1425), list[0].Payout)
	require.NotNil(t, list[0].ClaimedAt)
	assert.Equal(t, domain.SideUnder, list[1].Side)
	assert.Equal(t, uint64(475), list[1].Amount)
}

func TestSQLiteStorage_VaultTransfer(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	from, to := domain.UserAccount(alice), domain.UserAccount(bob)

	require.NoError(t, db.Atomic(ctx, func(tx ports.Tx) error {
		return tx.Vault().Credit(ctx, from, 1000)
	}))

	err := db.Atomic(ctx, func(tx ports.Tx) error { return tx.Vault().Transfer(ctx, from, to, 1001) })
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	require.NoError(t, db.Atomic(ctx, func(tx ports.Tx) error {
		return tx.Vault().Transfer(ctx, from, to, 400)
	}))

	require.NoError(t, db.View(ctx, func(tx ports.Tx) error {
		a, err := tx.Vault().Balance(ctx, from)
		require.NoError(t, err)
		b, err := tx.Vault().Balance(ctx, to)
		require.NoError(t, err)
		assert.Equal(t, uint64(600), a)
		assert.Equal(t, uint64(400), b)
		return nil
	}))
}

func TestSQLiteStorage_CreditOverflow(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	acct := domain.UserAccount(alice)

	require.NoError(t, db.Atomic(ctx, func(tx ports.Tx) error {
		return tx.Vault().Credit(ctx, acct, ^uint64(0))
	}))
	err := db.Atomic(ctx, func(tx ports.Tx) error { return tx.Vault().Credit(ctx, acct, 1) })
	assert.ErrorIs(t, err, domain.ErrOverflow)
}

func TestSQLiteStorage_Tokens(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	token := domain.DeriveTokenID(domain.Hash{0x42})
	seller := domain.UserAccount(alice)
	escrow := domain.EscrowAccount(domain.Hash{0x42})

	require.NoError(t, db.Atomic(ctx, func(tx ports.Tx) error {
		return tx.Tokens().Mint(ctx, token, seller)
	}))
	err := db.Atomic(ctx, func(tx ports.Tx) error { return tx.Tokens().Mint(ctx, token, seller) })
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	// only the holder can move it
	err = db.Atomic(ctx, func(tx ports.Tx) error { return tx.Tokens().Move(ctx, token, escrow, seller) })
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	require.NoError(t, db.Atomic(ctx, func(tx ports.Tx) error {
		return tx.Tokens().Move(ctx, token, seller, escrow)
	}))

	require.NoError(t, db.View(ctx, func(tx ports.Tx) error {
		h, err := tx.Tokens().Holding(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, escrow, h.Holder)
		assert.NoError(t, h.CheckEscrowCustody())
		return nil
	}))

	require.NoError(t, db.SetTokenAuthorities(ctx, token, bob, domain.ZeroAddress))
	require.NoError(t, db.View(ctx, func(tx ports.Tx) error {
		h, err := tx.Tokens().Holding(ctx, token)
		require.NoError(t, err)
		assert.ErrorIs(t, h.CheckEscrowCustody(), domain.ErrUnexpectedDelegate)
		return nil
	}))
}

func TestSQLiteStorage_Listings(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	receipt := domain.Hash{0x77}
	l := domain.Listing{
		Receipt:  receipt,
		Seller:   alice,
		Token:    domain.DeriveTokenID(receipt),
		ListedAt: time.Date(2026, 3, 1, 18, 30, 0, 0, time.UTC),
	}

	require.NoError(t, db.Atomic(ctx, func(tx ports.Tx) error { return tx.Listings().Insert(ctx, l) }))
	err := db.Atomic(ctx, func(tx ports.Tx) error { return tx.Listings().Insert(ctx, l) })
	assert.ErrorIs(t, err, domain.ErrReceiptListed)

	require.NoError(t, db.View(ctx, func(tx ports.Tx) error {
		got, err := tx.Listings().Get(ctx, receipt)
		require.NoError(t, err)
		assert.Equal(t, alice, got.Seller)
		assert.True(t, l.ListedAt.Equal(got.ListedAt))
		return nil
	}))

	require.NoError(t, db.Atomic(ctx, func(tx ports.Tx) error { return tx.Listings().Delete(ctx, receipt) }))
	err = db.Atomic(ctx, func(tx ports.Tx) error { return tx.Listings().Delete(ctx, receipt) })
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLiteStorage_ListPools(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	first, second := makePool(1), makePool(2)
	second.CreatedAt = first.CreatedAt.Add(time.Minute)

	require.NoError(t, db.Atomic(ctx, func(tx ports.Tx) error {
		if err := tx.Pools().Insert(ctx, second); err != nil {
			return err
		}
		return tx.Pools().Insert(ctx, first)
	}))

	var pools []domain.Pool
	require.NoError(t, db.View(ctx, func(tx ports.Tx) error {
		var err error
		pools, err = tx.Pools().List(ctx)
		return err
	}))
	require.Len(t, pools, 2)
	assert.Equal(t, first.ID, pools[0].ID)
	assert.Equal(t, second.ID, pools[1].ID)
}

func TestSQLiteStorage_RememberNonce(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()

	first, err := db.Remember(ctx, "0xa1:n-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := db.Remember(ctx, "0xa1:n-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, again, "same nonce inside its window")

	other, err := db.Remember(ctx, "0xb0:n-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, other, "nonces are scoped by caller")

	// an expired nonce is forgotten
	_, err = db.Remember(ctx, "0xa1:n-2", -time.Second)
	require.NoError(t, err)
	reused, err := db.Remember(ctx, "0xa1:n-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, reused)
}
