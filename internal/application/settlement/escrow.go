package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhowze/overunder/internal/domain"
	"github.com/nhowze/overunder/internal/ports"
)

// BuyRequest compra un recibo listado. El comprador paga Price completo; el
// royalty sale de ahí.
type BuyRequest struct {
	Receipt domain.ReceiptID
	Price   uint64
}

// List mueve el token de un recibo a escrow y abre un listing para él.
func (e *Engine) List(ctx context.Context, id domain.ReceiptID, seller domain.Address) (domain.Listing, error) {
	var listing domain.Listing
	err := e.escrow(ctx, "List", id, func(u *unit) error {
		r, pool, err := loadReceiptPool(ctx, u.tx, id)
		if err != nil {
			return err
		}
		if seller != r.Owner {
			return fmt.Errorf("%w: only the owner may list", domain.ErrUnauthorized)
		}
		if r.Claimed {
			return domain.ErrAlreadyClaimed
		}
		if pool.Settled {
			return domain.ErrPoolSettled
		}
		if r.ForSale {
			return domain.ErrReceiptListed
		}

		from := domain.UserAccount(seller)
		if err := checkHolding(ctx, u.tx, r.Token, from); err != nil {
			return err
		}
		if err := u.tx.Tokens().Move(ctx, r.Token, from, domain.EscrowAccount(r.ID)); err != nil {
			return fmt.Errorf("escrow token: %w", err)
		}

		listing = domain.Listing{Receipt: r.ID, Seller: seller, Token: r.Token, ListedAt: u.now}
		if err := u.tx.Listings().Insert(ctx, listing); err != nil {
			return fmt.Errorf("insert listing: %w", err)
		}
		r.ForSale = true
		if err := u.tx.Receipts().Update(ctx, r); err != nil {
			return fmt.Errorf("update receipt: %w", err)
		}

		u.emit(domain.Event{
			Type:    domain.EventListed,
			Pool:    ptr(pool.ID),
			Receipt: ptr(r.ID),
			Actor:   seller,
		})
		return nil
	})
	if err != nil {
		return domain.Listing{}, err
	}
	return listing, nil
}

// Delist cancela un listing en nombre del vendedor que figura en él.
func (e *Engine) Delist(ctx context.Context, id domain.ReceiptID, seller domain.Address) error {
	return e.escrow(ctx, "Delist", id, func(u *unit) error {
		return e.unlist(ctx, u, id, seller, domain.EventDelisted, func(r domain.Receipt, l domain.Listing) bool {
			return seller == l.Seller
		})
	})
}

// Reclaim devuelve un token en escrow al titular del recibo. Lo autoriza el
// registro del recibo, no el listing.
func (e *Engine) Reclaim(ctx context.Context, id domain.ReceiptID, seller domain.Address) error {
	return e.escrow(ctx, "Reclaim", id, func(u *unit) error {
		return e.unlist(ctx, u, id, seller, domain.EventReclaimed, func(r domain.Receipt, _ domain.Listing) bool {
			return seller == r.Owner
		})
	})
}

func (e *Engine) unlist(ctx context.Context, u *unit, id domain.ReceiptID, seller domain.Address,
	typ domain.EventType, authorised func(domain.Receipt, domain.Listing) bool) error {
	r, pool, err := loadReceiptPool(ctx, u.tx, id)
	if err != nil {
		return err
	}
	l, err := activeListing(ctx, u.tx, r)
	if err != nil {
		return err
	}
	if !authorised(r, l) {
		return domain.ErrUnauthorized
	}

	escrow := domain.EscrowAccount(r.ID)
	if err := checkHolding(ctx, u.tx, r.Token, escrow); err != nil {
		return err
	}
	if err := u.tx.Tokens().Move(ctx, r.Token, escrow, domain.UserAccount(seller)); err != nil {
		return fmt.Errorf("return token: %w", err)
	}
	if err := u.tx.Listings().Delete(ctx, r.ID); err != nil {
		return fmt.Errorf("delete listing: %w", err)
	}
	r.ForSale = false
	if err := u.tx.Receipts().Update(ctx, r); err != nil {
		return fmt.Errorf("update receipt: %w", err)
	}

	u.emit(domain.Event{
		Type:    typ,
		Pool:    ptr(pool.ID),
		Receipt: ptr(r.ID),
		Actor:   seller,
	})
	return nil
}

// Buy paga al vendedor y al royalty sink desde la custodia del comprador y le
// entrega el recibo, con su derecho sobre el pot.
func (e *Engine) Buy(ctx context.Context, req BuyRequest, buyer domain.Address) (domain.Receipt, error) {
	var bought domain.Receipt
	err := e.escrow(ctx, "Buy", req.Receipt, func(u *unit) error {
		if req.Price == 0 {
			return domain.ErrInvalidAmount
		}
		r, pool, err := loadReceiptPool(ctx, u.tx, req.Receipt)
		if err != nil {
			return err
		}
		l, err := activeListing(ctx, u.tx, r)
		if err != nil {
			return err
		}
		if r.Claimed {
			return domain.ErrAlreadyClaimed
		}
		if pool.Settled {
			return domain.ErrPoolSettled
		}
		if buyer == l.Seller {
			return fmt.Errorf("%w: seller cannot buy own listing", domain.ErrUnauthorized)
		}

		escrow := domain.EscrowAccount(r.ID)
		if err := checkHolding(ctx, u.tx, r.Token, escrow); err != nil {
			return err
		}

		royalty, proceeds, err := domain.SplitBPS(req.Price, e.cfg.RoyaltyBPS)
		if err != nil {
			return err
		}
		from := domain.UserAccount(buyer)
		if err := u.tx.Vault().Transfer(ctx, from, domain.UserAccount(l.Seller), proceeds); err != nil {
			return fmt.Errorf("pay seller: %w", err)
		}
		if err := u.tx.Vault().Transfer(ctx, from, domain.UserAccount(e.cfg.RoyaltySink), royalty); err != nil {
			return fmt.Errorf("pay royalty: %w", err)
		}
		if err := u.tx.Tokens().Move(ctx, r.Token, escrow, from); err != nil {
			return fmt.Errorf("deliver token: %w", err)
		}
		if err := u.tx.Listings().Delete(ctx, r.ID); err != nil {
			return fmt.Errorf("delete listing: %w", err)
		}

		r.Owner = buyer
		r.ForSale = false
		if err := u.tx.Receipts().Update(ctx, r); err != nil {
			return fmt.Errorf("update receipt: %w", err)
		}
		bought = r

		u.emit(domain.Event{
			Type:    domain.EventSold,
			Pool:    ptr(pool.ID),
			Receipt: ptr(r.ID),
			Actor:   buyer,
			Account: domain.UserAccount(l.Seller),
			Amount:  req.Price,
			Fee:     royalty,
		})
		return nil
	})
	if err != nil {
		return domain.Receipt{}, err
	}
	return bought, nil
}

// Listing devuelve el listing activo de un recibo.
func (e *Engine) Listing(ctx context.Context, id domain.ReceiptID) (domain.Listing, error) {
	var l domain.Listing
	err := e.store.View(ctx, func(tx ports.Tx) error {
		var err error
		l, err = tx.Listings().Get(ctx, id)
		return err
	})
	if err != nil {
		return domain.Listing{}, fmt.Errorf("settlement.Listing: %w", err)
	}
	return l, nil
}

// escrow ejecuta una operación de escrow bajo el lock del pool y después el
// del recibo, el mismo orden que usa Claim. El pool de un recibo no cambia
// nunca, así que leerlo antes de tomar los locks es seguro.
func (e *Engine) escrow(ctx context.Context, op string, id domain.ReceiptID, fn func(u *unit) error) error {
	r, err := e.Receipt(ctx, id)
	if err != nil {
		return fmt.Errorf("settlement.%s: %w", op, errors.Unwrap(err))
	}
	return e.execute(ctx, op, []string{poolLock(r.Pool), receiptLock(id)}, fn)
}

func loadReceiptPool(ctx context.Context, tx ports.Tx, id domain.ReceiptID) (domain.Receipt, domain.Pool, error) {
	r, err := tx.Receipts().Get(ctx, id)
	if err != nil {
		return domain.Receipt{}, domain.Pool{}, fmt.Errorf("load receipt: %w", err)
	}
	pool, err := tx.Pools().Get(ctx, r.Pool)
	if err != nil {
		return domain.Receipt{}, domain.Pool{}, fmt.Errorf("load pool: %w", err)
	}
	return r, pool, nil
}

func activeListing(ctx context.Context, tx ports.Tx, r domain.Receipt) (domain.Listing, error) {
	if !r.ForSale {
		return domain.Listing{}, domain.ErrNotListed
	}
	l, err := tx.Listings().Get(ctx, r.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Listing{}, domain.ErrNotListed
	}
	if err != nil {
		return domain.Listing{}, fmt.Errorf("load listing: %w", err)
	}
	return l, nil
}

// checkHolding verifica que el token esté con holder y con custodia limpia.
func checkHolding(ctx context.Context, tx ports.Tx, token domain.TokenID, holder domain.Account) error {
	h, err := tx.Tokens().Holding(ctx, token)
	if err != nil {
		return fmt.Errorf("load token: %w", err)
	}
	if err := h.CheckEscrowCustody(); err != nil {
		return err
	}
	if h.Holder != holder {
		return fmt.Errorf("%w: token not held by %s", domain.ErrUnauthorized, holder)
	}
	return nil
}
