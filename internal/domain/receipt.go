package domain

import "time"

// Receipt registra una apuesta. Amount es neto de fee y no cambia nunca.
type Receipt struct {
	ID        ReceiptID
	Pool      PoolID
	Owner     Address // titular actual del claim; cambia con la reventa
	Bettor    Address // quién hizo la apuesta
	Side      Side
	Amount    uint64
	Claimed   bool
	Token     TokenID
	ForSale   bool
	Nonce     uint64
	PlacedAt  time.Time
	ClaimedAt *time.Time
	Payout    uint64 // monto transferido por el claim
}

// NewReceipt construye el recibo de una apuesta recién hecha.
func NewReceipt(pool PoolID, bettor Address, side Side, net, nonce uint64, now time.Time) Receipt {
	id := DeriveReceiptID(bettor, pool, nonce)
	return Receipt{
		ID:       id,
		Pool:     pool,
		Owner:    bettor,
		Bettor:   bettor,
		Side:     side,
		Amount:   net,
		Token:    DeriveTokenID(id),
		Nonce:    nonce,
		PlacedAt: now,
	}
}

// MarkClaimed marca el recibo como reclamado. Solo pasa de false a true.
func (r *Receipt) MarkClaimed(payout uint64, now time.Time) error {
	if r.Claimed {
		return ErrAlreadyClaimed
	}
	r.Claimed = true
	r.Payout = payout
	r.ClaimedAt = &now
	return nil
}

// ListingState es el estado de un recibo en el mercado de escrow.
type ListingState string

const (
	Unlisted ListingState = "unlisted"
	Listed   ListingState = "listed"
)

// State devuelve el estado del recibo en el mercado de escrow.
func (r Receipt) State() ListingState {
	if r.ForSale {
		return Listed
	}
	return Unlisted
}

// Listing es un listing activo en escrow. Mientras existe, el token está en la
// cuenta de custodia escrow del recibo.
type Listing struct {
	Receipt  ReceiptID
	Seller   Address
	Token    TokenID
	ListedAt time.Time
}
