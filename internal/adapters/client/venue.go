package client

import (
	"context"
	"fmt"
	"net/url"

	"github.com/nhowze/overunder/internal/application/settlement"
	"github.com/nhowze/overunder/internal/domain"
	"github.com/nhowze/overunder/internal/server"
)

var _ server.Venue = (*Client)(nil)

// OpenPool abre un pool. Se ignora el argumento caller: el servidor autoriza
// al firmante.
func (c *Client) OpenPool(ctx context.Context, req settlement.OpenPoolRequest, _ domain.Address) (domain.Pool, error) {
	body := server.OpenPoolBody{
		FixtureID:  req.Key.FixtureID,
		Sport:      req.Key.Sport,
		Subject:    req.Key.Subject.Hex(),
		StatMetric: req.Key.StatMetric,
		Threshold:  req.Key.Threshold,
		Deadline:   req.Deadline,
	}
	if req.Authority != domain.ZeroAddress {
		body.Authority = req.Authority.Hex()
	}
	var v server.PoolView
	if err := c.post(ctx, "/v1/pools", body, &v); err != nil {
		return domain.Pool{}, err
	}
	return poolFromView(v)
}

func (c *Client) PublishResult(ctx context.Context, req settlement.PublishRequest, _ domain.Address) (domain.Pool, error) {
	var v server.PoolView
	body := server.ResultBody{Outcome: req.Outcome.String(), FinalStat: req.FinalStat}
	if err := c.post(ctx, poolPath(req.Pool, "/result"), body, &v); err != nil {
		return domain.Pool{}, err
	}
	return poolFromView(v)
}

func (c *Client) PlaceBet(ctx context.Context, req settlement.PlaceBetRequest, _ domain.Address) (domain.Receipt, error) {
	var v server.ReceiptView
	body := server.BetBody{Gross: req.Gross, Side: req.Side.String(), Nonce: req.Nonce}
	if err := c.post(ctx, poolPath(req.Pool, "/bets"), body, &v); err != nil {
		return domain.Receipt{}, err
	}
	return receiptFromView(v)
}

func (c *Client) Claim(ctx context.Context, req settlement.ClaimRequest, _ domain.Address) (settlement.ClaimResult, error) {
	var resp struct {
		Receipt    server.ReceiptView    `json:"receipt"`
		Settlement domain.SettlementKind `json:"settlement"`
		Payout     uint64                `json:"payout"`
	}
	body := server.ClaimBody{Pool: req.Pool.Hex(), Recipient: req.Recipient.Hex()}
	if err := c.post(ctx, receiptPath(req.Receipt, "/claim"), body, &resp); err != nil {
		return settlement.ClaimResult{}, err
	}
	rc, err := receiptFromView(resp.Receipt)
	if err != nil {
		return settlement.ClaimResult{}, err
	}
	return settlement.ClaimResult{
		Receipt:    rc,
		Settlement: domain.Settlement{Kind: resp.Settlement, Payout: resp.Payout},
	}, nil
}

func (c *Client) WithdrawFees(ctx context.Context, pool domain.PoolID, recipient, _ domain.Address) (uint64, error) {
	var resp struct {
		Withdrawn uint64 `json:"withdrawn"`
	}
	body := server.RecipientBody{Recipient: recipient.Hex()}
	if err := c.post(ctx, poolPath(pool, "/fees/withdraw"), body, &resp); err != nil {
		return 0, err
	}
	return resp.Withdrawn, nil
}

func (c *Client) List(ctx context.Context, receipt domain.ReceiptID, _ domain.Address) (domain.Listing, error) {
	var v server.ListingView
	if err := c.post(ctx, receiptPath(receipt, "/list"), nil, &v); err != nil {
		return domain.Listing{}, err
	}
	return listingFromView(v)
}

func (c *Client) Delist(ctx context.Context, receipt domain.ReceiptID, _ domain.Address) error {
	return c.post(ctx, receiptPath(receipt, "/delist"), nil, nil)
}

func (c *Client) Buy(ctx context.Context, req settlement.BuyRequest, _ domain.Address) (domain.Receipt, error) {
	var v server.ReceiptView
	if err := c.post(ctx, receiptPath(req.Receipt, "/buy"), server.BuyBody{Price: req.Price}, &v); err != nil {
		return domain.Receipt{}, err
	}
	return receiptFromView(v)
}

func (c *Client) Reclaim(ctx context.Context, receipt domain.ReceiptID, _ domain.Address) error {
	return c.post(ctx, receiptPath(receipt, "/reclaim"), nil, nil)
}

func (c *Client) Deposit(ctx context.Context, to domain.Address, amount uint64, _ domain.Address) error {
	return c.post(ctx, "/v1/deposits", server.DepositBody{To: to.Hex(), Amount: amount}, nil)
}

func (c *Client) Pool(ctx context.Context, id domain.PoolID) (domain.Pool, error) {
	var v server.PoolView
	if err := c.get(ctx, poolPath(id, ""), &v); err != nil {
		return domain.Pool{}, err
	}
	return poolFromView(v)
}

func (c *Client) Receipts(ctx context.Context, id domain.PoolID) ([]domain.Receipt, error) {
	var views []server.ReceiptView
	if err := c.get(ctx, poolPath(id, "/receipts"), &views); err != nil {
		return nil, err
	}
	out := make([]domain.Receipt, 0, len(views))
	for _, v := range views {
		rc, err := receiptFromView(v)
		if err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, nil
}

func (c *Client) Receipt(ctx context.Context, id domain.ReceiptID) (domain.Receipt, error) {
	var v server.ReceiptView
	if err := c.get(ctx, receiptPath(id, ""), &v); err != nil {
		return domain.Receipt{}, err
	}
	return receiptFromView(v)
}

func (c *Client) Listing(ctx context.Context, id domain.ReceiptID) (domain.Listing, error) {
	var v server.ListingView
	if err := c.get(ctx, receiptPath(id, "/listing"), &v); err != nil {
		return domain.Listing{}, err
	}
	return listingFromView(v)
}

// Balance lee el saldo de un principal. Solo se exponen cuentas de usuario.
func (c *Client) Balance(ctx context.Context, account domain.Account) (uint64, error) {
	owner, ok := account.Owner()
	if !ok {
		return 0, fmt.Errorf("client: balance of %s: %w: only user accounts are public", account, domain.ErrUnauthorized)
	}
	var resp struct {
		Balance uint64 `json:"balance"`
	}
	if err := c.get(ctx, "/v1/accounts/"+url.PathEscape(owner.Hex())+"/balance", &resp); err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

func poolPath(id domain.PoolID, suffix string) string { return "/v1/pools/" + id.Hex() + suffix }

func receiptPath(id domain.ReceiptID, suffix string) string {
	return "/v1/receipts/" + id.Hex() + suffix
}

func poolFromView(v server.PoolView) (domain.Pool, error) {
	p := domain.Pool{
		Key: domain.PoolKey{
			FixtureID:  v.FixtureID,
			Sport:      v.Sport,
			StatMetric: v.StatMetric,
			Threshold:  v.Threshold,
		},
		Deadline:    v.Deadline,
		StakeOver:   v.StakeOver,
		StakeUnder:  v.StakeUnder,
		FeesAccrued: v.FeesAccrued,
		PaidOut:     v.PaidOut,
		FinalStat:   v.FinalStat,
		Settled:     v.Settled,
		Version:     domain.PoolVersion,
		CreatedAt:   v.CreatedAt,
		SettledAt:   v.SettledAt,
	}
	var err error
	if p.ID, err = domain.ParseHash(v.ID); err != nil {
		return domain.Pool{}, fmt.Errorf("client: pool id: %w", err)
	}
	if p.Key.Subject, err = domain.ParseAddress(v.Subject); err != nil {
		return domain.Pool{}, fmt.Errorf("client: pool subject: %w", err)
	}
	if p.Authority, err = domain.ParseAddress(v.Authority); err != nil {
		return domain.Pool{}, fmt.Errorf("client: pool authority: %w", err)
	}
	if p.FeeVault, err = domain.ParseHash(v.FeeVault); err != nil {
		return domain.Pool{}, fmt.Errorf("client: fee vault: %w", err)
	}
	if p.Result, err = domain.ParseOutcome(v.Result); err != nil {
		return domain.Pool{}, fmt.Errorf("client: pool result: %w", err)
	}
	return p, nil
}

func receiptFromView(v server.ReceiptView) (domain.Receipt, error) {
	rc := domain.Receipt{
		Amount:    v.Amount,
		Claimed:   v.Claimed,
		ForSale:   domain.ListingState(v.State) == domain.Listed,
		Nonce:     v.Nonce,
		PlacedAt:  v.PlacedAt,
		ClaimedAt: v.ClaimedAt,
		Payout:    v.Payout,
	}
	var err error
	if rc.ID, err = domain.ParseHash(v.ID); err != nil {
		return domain.Receipt{}, fmt.Errorf("client: receipt id: %w", err)
	}
	if rc.Pool, err = domain.ParseHash(v.Pool); err != nil {
		return domain.Receipt{}, fmt.Errorf("client: receipt pool: %w", err)
	}
	if rc.Owner, err = domain.ParseAddress(v.Owner); err != nil {
		return domain.Receipt{}, fmt.Errorf("client: receipt owner: %w", err)
	}
	if rc.Bettor, err = domain.ParseAddress(v.Bettor); err != nil {
		return domain.Receipt{}, fmt.Errorf("client: receipt bettor: %w", err)
	}
	if rc.Token, err = domain.ParseHash(v.Token); err != nil {
		return domain.Receipt{}, fmt.Errorf("client: receipt token: %w", err)
	}
	if rc.Side, err = domain.ParseSide(v.Side); err != nil {
		return domain.Receipt{}, fmt.Errorf("client: receipt side: %w", err)
	}
	return rc, nil
}

func listingFromView(v server.ListingView) (domain.Listing, error) {
	l := domain.Listing{ListedAt: v.ListedAt}
	var err error
	if l.Receipt, err = domain.ParseHash(v.Receipt); err != nil {
		return domain.Listing{}, fmt.Errorf("client: listing receipt: %w", err)
	}
	if l.Seller, err = domain.ParseAddress(v.Seller); err != nil {
		return domain.Listing{}, fmt.Errorf("client: listing seller: %w", err)
	}
	if l.Token, err = domain.ParseHash(v.Token); err != nil {
		return domain.Listing{}, fmt.Errorf("client: listing token: %w", err)
	}
	return l, nil
}
