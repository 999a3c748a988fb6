package server

import (
	"time"

	"github.com/nhowze/overunder/internal/domain"
)

// PoolView is the JSON form of a pool ledger.
type PoolView struct {
	ID          string     `json:"id"`
	FixtureID   uint64     `json:"fixture_id"`
	Sport       string     `json:"sport"`
	Subject     string     `json:"subject"`
	StatMetric  string     `json:"stat_metric"`
	Threshold   uint32     `json:"threshold"`
	Deadline    time.Time  `json:"deadline"`
	StakeOver   uint64     `json:"stake_over"`
	StakeUnder  uint64     `json:"stake_under"`
	FeesAccrued uint64     `json:"fees_accrued"`
	PaidOut     uint64     `json:"paid_out"`
	Result      string     `json:"result"`
	FinalStat   uint32     `json:"final_stat"`
	Settled     bool       `json:"settled"`
	Authority   string     `json:"authority"`
	FeeVault    string     `json:"fee_vault"`
	CreatedAt   time.Time  `json:"created_at"`
	SettledAt   *time.Time `json:"settled_at,omitempty"`
}

func poolView(p domain.Pool) PoolView {
	return PoolView{
		ID:          p.ID.Hex(),
		FixtureID:   p.Key.FixtureID,
		Sport:       p.Key.Sport,
		Subject:     p.Key.Subject.Hex(),
		StatMetric:  p.Key.StatMetric,
		Threshold:   p.Key.Threshold,
		Deadline:    p.Deadline,
		StakeOver:   p.StakeOver,
		StakeUnder:  p.StakeUnder,
		FeesAccrued: p.FeesAccrued,
		PaidOut:     p.PaidOut,
		Result:      p.Result.String(),
		FinalStat:   p.FinalStat,
		Settled:     p.Settled,
		Authority:   p.Authority.Hex(),
		FeeVault:    p.FeeVault.Hex(),
		CreatedAt:   p.CreatedAt,
		SettledAt:   p.SettledAt,
	}
}

// ReceiptView is the JSON form of a stake receipt.
type ReceiptView struct {
	ID        string     `json:"id"`
	Pool      string     `json:"pool"`
	Owner     string     `json:"owner"`
	Bettor    string     `json:"bettor"`
	Side      string     `json:"side"`
	Amount    uint64     `json:"amount"`
	Claimed   bool       `json:"claimed"`
	Token     string     `json:"token"`
	State     string     `json:"state"`
	Nonce     uint64     `json:"nonce"`
	PlacedAt  time.Time  `json:"placed_at"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	Payout    uint64     `json:"payout"`
}

func receiptView(r domain.Receipt) ReceiptView {
	return ReceiptView{
		ID:        r.ID.Hex(),
		Pool:      r.Pool.Hex(),
		Owner:     r.Owner.Hex(),
		Bettor:    r.Bettor.Hex(),
		Side:      r.Side.String(),
		Amount:    r.Amount,
		Claimed:   r.Claimed,
		Token:     r.Token.Hex(),
		State:     string(r.State()),
		Nonce:     r.Nonce,
		PlacedAt:  r.PlacedAt,
		ClaimedAt: r.ClaimedAt,
		Payout:    r.Payout,
	}
}

// ListingView is the JSON form of an escrow listing.
type ListingView struct {
	Receipt  string    `json:"receipt"`
	Seller   string    `json:"seller"`
	Token    string    `json:"token"`
	ListedAt time.Time `json:"listed_at"`
}

func listingView(l domain.Listing) ListingView {
	return ListingView{
		Receipt:  l.Receipt.Hex(),
		Seller:   l.Seller.Hex(),
		Token:    l.Token.Hex(),
		ListedAt: l.ListedAt,
	}
}

// Request bodies.

// OpenPoolBody is the body of POST /v1/pools.
type OpenPoolBody struct {
	FixtureID  uint64    `json:"fixture_id"`
	Sport      string    `json:"sport"`
	Subject    string    `json:"subject"`
	StatMetric string    `json:"stat_metric"`
	Threshold  uint32    `json:"threshold"`
	Deadline   time.Time `json:"deadline"`
	Authority  string    `json:"authority,omitempty"`
}

// BetBody is the body of POST /v1/pools/{pool}/bets.
type BetBody struct {
	Gross uint64 `json:"gross"`
	Side  string `json:"side"`
	Nonce uint64 `json:"nonce"`
}

// ResultBody is the body of POST /v1/pools/{pool}/result.
type ResultBody struct {
	Outcome   string `json:"outcome"`
	FinalStat uint32 `json:"final_stat"`
}

// RecipientBody names who receives a transfer; empty means the caller.
type RecipientBody struct {
	Recipient string `json:"recipient,omitempty"`
}

// ClaimBody is the body of POST /v1/receipts/{receipt}/claim.
type ClaimBody struct {
	Pool      string `json:"pool,omitempty"` // defaults to the receipt's pool
	Recipient string `json:"recipient,omitempty"`
}

// BuyBody is the body of POST /v1/receipts/{receipt}/buy.
type BuyBody struct {
	Price uint64 `json:"price"`
}

// DepositBody is the body of POST /v1/deposits.
type DepositBody struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}
