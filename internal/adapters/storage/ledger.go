package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nhowze/overunder/internal/domain"
)

type poolRepo struct{ tx *sql.Tx }

const poolColumns = `id, fixture_id, sport, subject, stat_metric, threshold, deadline,
    stake_over, stake_under, fees_accrued, paid_out, result, final_stat, settled,
    authority, fee_vault, version, created_at, settled_at`

func (r poolRepo) Insert(ctx context.Context, p domain.Pool) error {
	if err := claimAddress(ctx, r.tx, p.ID, domain.KindPool); err != nil {
		return fmt.Errorf("storage.InsertPool: %w", err)
	}
	if err := claimAddress(ctx, r.tx, p.FeeVault, domain.KindFeeVault); err != nil {
		return fmt.Errorf("storage.InsertPool: fee vault: %w", err)
	}
	_, err := r.tx.ExecContext(ctx, `INSERT INTO pools (`+poolColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.Hex(), u64(p.Key.FixtureID), p.Key.Sport, p.Key.Subject.Hex(), p.Key.StatMetric,
		p.Key.Threshold, unixNano(p.Deadline),
		u64(p.StakeOver), u64(p.StakeUnder), u64(p.FeesAccrued), u64(p.PaidOut),
		p.Result.String(), p.FinalStat, boolToInt(p.Settled),
		p.Authority.Hex(), p.FeeVault.Hex(), p.Version, unixNano(p.CreatedAt), nullTime(p.SettledAt),
	)
	if err != nil {
		return fmt.Errorf("storage.InsertPool: %w", err)
	}
	return nil
}

func (r poolRepo) Get(ctx context.Context, id domain.PoolID) (domain.Pool, error) {
	row := r.tx.QueryRowContext(ctx, `SELECT `+poolColumns+` FROM pools WHERE id = ?`, id.Hex())
	p, err := scanPool(row)
	if err != nil {
		return domain.Pool{}, fmt.Errorf("storage.GetPool: %w", notFound(err))
	}
	return p, nil
}

func (r poolRepo) Update(ctx context.Context, p domain.Pool) error {
	res, err := r.tx.ExecContext(ctx, `
		UPDATE pools SET
		    stake_over = ?, stake_under = ?, fees_accrued = ?, paid_out = ?,
		    result = ?, final_stat = ?, settled = ?, settled_at = ?
		WHERE id = ?`,
		u64(p.StakeOver), u64(p.StakeUnder), u64(p.FeesAccrued), u64(p.PaidOut),
		p.Result.String(), p.FinalStat, boolToInt(p.Settled), nullTime(p.SettledAt),
		p.ID.Hex(),
	)
	if err != nil {
		return fmt.Errorf("storage.UpdatePool: %w", err)
	}
	return expectOne(res, "storage.UpdatePool")
}

func (r poolRepo) List(ctx context.Context) ([]domain.Pool, error) {
	rows, err := r.tx.QueryContext(ctx, `SELECT `+poolColumns+` FROM pools ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("storage.ListPools: %w", err)
	}
	defer rows.Close()

	var out []domain.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.ListPools: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPool(row rowScanner) (domain.Pool, error) {
	var (
		p                                     domain.Pool
		id, subject, result, authority, vault string
		fixture, deadline, created            int64
		over, under, fees, paid               int64
		threshold, finalStat                  uint32
		settled                               int
		settledAt                             sql.NullInt64
	)
	if err := row.Scan(
		&id, &fixture, &p.Key.Sport, &subject, &p.Key.StatMetric, &threshold, &deadline,
		&over, &under, &fees, &paid, &result, &finalStat, &settled,
		&authority, &vault, &p.Version, &created, &settledAt,
	); err != nil {
		return domain.Pool{}, err
	}

	var err error
	if p.ID, err = parseHash(id); err != nil {
		return domain.Pool{}, err
	}
	if p.Key.Subject, err = parseAddr(subject); err != nil {
		return domain.Pool{}, err
	}
	if p.Authority, err = parseAddr(authority); err != nil {
		return domain.Pool{}, err
	}
	if p.FeeVault, err = parseHash(vault); err != nil {
		return domain.Pool{}, err
	}
	if p.Result, err = domain.ParseOutcome(result); err != nil {
		return domain.Pool{}, err
	}
	p.Key.FixtureID = uint64(fixture)
	p.Key.Threshold = threshold
	p.Deadline = fromUnixNano(deadline)
	p.StakeOver = uint64(over)
	p.StakeUnder = uint64(under)
	p.FeesAccrued = uint64(fees)
	p.PaidOut = uint64(paid)
	p.FinalStat = finalStat
	p.Settled = settled == 1
	p.CreatedAt = fromUnixNano(created)
	p.SettledAt = scanNullTime(settledAt)
	return p, nil
}

type receiptRepo struct{ tx *sql.Tx }

const receiptColumns = `id, pool, owner, bettor, side_over, amount, claimed, token,
    for_sale, nonce, placed_at, claimed_at, payout`

func (r receiptRepo) Insert(ctx context.Context, rc domain.Receipt) error {
	if err := claimAddress(ctx, r.tx, rc.ID, domain.KindReceipt); err != nil {
		return fmt.Errorf("storage.InsertReceipt: %w", err)
	}
	_, err := r.tx.ExecContext(ctx, `INSERT INTO receipts (`+receiptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rc.ID.Hex(), rc.Pool.Hex(), rc.Owner.Hex(), rc.Bettor.Hex(), boolToInt(bool(rc.Side)),
		u64(rc.Amount), boolToInt(rc.Claimed), rc.Token.Hex(), boolToInt(rc.ForSale),
		u64(rc.Nonce), unixNano(rc.PlacedAt), nullTime(rc.ClaimedAt), u64(rc.Payout),
	)
	if err != nil {
		return fmt.Errorf("storage.InsertReceipt: %w", err)
	}
	return nil
}

func (r receiptRepo) Get(ctx context.Context, id domain.ReceiptID) (domain.Receipt, error) {
	rows, err := r.tx.QueryContext(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = ?`, id.Hex())
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("storage.GetReceipt: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return domain.Receipt{}, fmt.Errorf("storage.GetReceipt: %w", err)
		}
		return domain.Receipt{}, fmt.Errorf("storage.GetReceipt: %w", domain.ErrNotFound)
	}
	rc, err := scanReceipt(rows)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("storage.GetReceipt: %w", err)
	}
	return rc, nil
}

func (r receiptRepo) Update(ctx context.Context, rc domain.Receipt) error {
	res, err := r.tx.ExecContext(ctx, `
		UPDATE receipts SET owner = ?, claimed = ?, for_sale = ?, claimed_at = ?, payout = ?
		WHERE id = ?`,
		rc.Owner.Hex(), boolToInt(rc.Claimed), boolToInt(rc.ForSale), nullTime(rc.ClaimedAt), u64(rc.Payout),
		rc.ID.Hex(),
	)
	if err != nil {
		return fmt.Errorf("storage.UpdateReceipt: %w", err)
	}
	return expectOne(res, "storage.UpdateReceipt")
}

func (r receiptRepo) ListByPool(ctx context.Context, pool domain.PoolID) ([]domain.Receipt, error) {
	rows, err := r.tx.QueryContext(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE pool = ? ORDER BY placed_at, id`, pool.Hex())
	if err != nil {
		return nil, fmt.Errorf("storage.ListReceipts: %w", err)
	}
	defer rows.Close()

	var out []domain.Receipt
	for rows.Next() {
		rc, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.ListReceipts: %w", err)
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

func scanReceipt(rows *sql.Rows) (domain.Receipt, error) {
	var (
		rc                              domain.Receipt
		id, pool, owner, bettor, token  string
		sideOver, claimed, forSale      int
		amount, nonce, placedAt, payout int64
		claimedAt                       sql.NullInt64
	)
	if err := rows.Scan(
		&id, &pool, &owner, &bettor, &sideOver, &amount, &claimed, &token,
		&forSale, &nonce, &placedAt, &claimedAt, &payout,
	); err != nil {
		return domain.Receipt{}, err
	}

	var err error
	if rc.ID, err = parseHash(id); err != nil {
		return domain.Receipt{}, err
	}
	if rc.Pool, err = parseHash(pool); err != nil {
		return domain.Receipt{}, err
	}
	if rc.Owner, err = parseAddr(owner); err != nil {
		return domain.Receipt{}, err
	}
	if rc.Bettor, err = parseAddr(bettor); err != nil {
		return domain.Receipt{}, err
	}
	if rc.Token, err = parseHash(token); err != nil {
		return domain.Receipt{}, err
	}
	rc.Side = domain.Side(sideOver == 1)
	rc.Amount = uint64(amount)
	rc.Claimed = claimed == 1
	rc.ForSale = forSale == 1
	rc.Nonce = uint64(nonce)
	rc.PlacedAt = fromUnixNano(placedAt)
	rc.ClaimedAt = scanNullTime(claimedAt)
	rc.Payout = uint64(payout)
	return rc, nil
}

type listingRepo struct{ tx *sql.Tx }

func (r listingRepo) Insert(ctx context.Context, l domain.Listing) error {
	var n int
	if err := r.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM listings WHERE receipt = ?`, l.Receipt.Hex()).Scan(&n); err != nil {
		return fmt.Errorf("storage.InsertListing: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("storage.InsertListing: %w", domain.ErrReceiptListed)
	}
	_, err := r.tx.ExecContext(ctx,
		`INSERT INTO listings (receipt, seller, token, listed_at) VALUES (?, ?, ?, ?)`,
		l.Receipt.Hex(), l.Seller.Hex(), l.Token.Hex(), unixNano(l.ListedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.InsertListing: %w", err)
	}
	return nil
}

func (r listingRepo) Get(ctx context.Context, receipt domain.ReceiptID) (domain.Listing, error) {
	var (
		seller, token string
		listedAt      int64
	)
	err := r.tx.QueryRowContext(ctx,
		`SELECT seller, token, listed_at FROM listings WHERE receipt = ?`, receipt.Hex(),
	).Scan(&seller, &token, &listedAt)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("storage.GetListing: %w", notFound(err))
	}

	l := domain.Listing{Receipt: receipt, ListedAt: fromUnixNano(listedAt)}
	if l.Seller, err = parseAddr(seller); err != nil {
		return domain.Listing{}, fmt.Errorf("storage.GetListing: %w", err)
	}
	if l.Token, err = parseHash(token); err != nil {
		return domain.Listing{}, fmt.Errorf("storage.GetListing: %w", err)
	}
	return l, nil
}

func (r listingRepo) Delete(ctx context.Context, receipt domain.ReceiptID) error {
	res, err := r.tx.ExecContext(ctx, `DELETE FROM listings WHERE receipt = ?`, receipt.Hex())
	if err != nil {
		return fmt.Errorf("storage.DeleteListing: %w", err)
	}
	return expectOne(res, "storage.DeleteListing")
}
