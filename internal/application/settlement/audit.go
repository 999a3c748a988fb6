package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/nhowze/overunder/internal/domain"
	"github.com/nhowze/overunder/internal/ports"
)

// AuditReport es el resultado de conciliar un pool contra la custodia.
type AuditReport struct {
	Pool       domain.PoolID
	Settled    bool
	Receipts   int
	Claimed    int
	PotBalance uint64
	FeeBalance uint64
	Problems   []string
}

// OK indica si los libros del pool cuadran.
func (r AuditReport) OK() bool { return len(r.Problems) == 0 }

func (r *AuditReport) problem(format string, args ...any) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

// AuditPool concilia el ledger de un pool con sus recibos, los saldos de
// custodia y los holdings de tokens. Los hallazgos se reportan, no se
// devuelven como errores.
func (e *Engine) AuditPool(ctx context.Context, id domain.PoolID) (AuditReport, error) {
	var report AuditReport
	err := e.store.View(ctx, func(tx ports.Tx) error {
		pool, err := tx.Pools().Get(ctx, id)
		if err != nil {
			return err
		}
		report, err = auditPool(ctx, tx, pool)
		return err
	})
	if err != nil {
		return AuditReport{}, fmt.Errorf("settlement.AuditPool: %w", err)
	}
	return report, nil
}

// Audit concilia todos los pools con un worker pool. Si workers <= 0 usa
// runtime.NumCPU() × 2. Los reportes vuelven en el orden de creación de los pools.
func (e *Engine) Audit(ctx context.Context, workers int) ([]AuditReport, error) {
	var pools []domain.Pool
	if err := e.store.View(ctx, func(tx ports.Tx) error {
		var err error
		pools, err = tx.Pools().List(ctx)
		return err
	}); err != nil {
		return nil, fmt.Errorf("settlement.Audit: %w", err)
	}
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}

	type result struct {
		idx    int
		report AuditReport
		err    error
	}
	workCh := make(chan int, len(pools))
	resultCh := make(chan result, len(pools))

	// cada worker audita pools de workCh en su propia transacción de lectura
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range workCh {
				report, err := e.AuditPool(ctx, pools[idx].ID)
				resultCh <- result{idx: idx, report: report, err: err}
			}
		}()
	}
	for i := range pools {
		workCh <- i
	}
	close(workCh)

	// cerrar resultCh cuando terminen todos los workers
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	reports := make([]AuditReport, len(pools))
	var firstErr error
	for res := range resultCh {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		reports[res.idx] = res.report
	}
	if firstErr != nil {
		return nil, fmt.Errorf("settlement.Audit: %w", firstErr)
	}

	unbalanced := 0
	for _, r := range reports {
		if !r.OK() {
			unbalanced++
			slog.Warn("settlement: pool out of balance", "pool", r.Pool.Hex(), "problems", r.Problems)
		}
	}
	slog.Debug("settlement: audit complete", "pools", len(reports), "unbalanced", unbalanced, "workers", workers)
	return reports, nil
}

func auditPool(ctx context.Context, tx ports.Tx, pool domain.Pool) (AuditReport, error) {
	report := AuditReport{Pool: pool.ID, Settled: pool.Settled}
	if err := pool.CheckFeeVault(); err != nil {
		report.problem("fee vault %s is not derived from the pool", pool.FeeVault.Hex())
	}

	receipts, err := tx.Receipts().ListByPool(ctx, pool.ID)
	if err != nil {
		return AuditReport{}, err
	}
	report.Receipts = len(receipts)

	var over, under, paid uint64
	var overflowed bool
	add := func(total *uint64, v uint64, what string) {
		n, err := domain.CheckedAdd(*total, v)
		if err != nil {
			if !overflowed {
				report.problem("%s overflow u64", what)
			}
			overflowed = true
			return
		}
		*total = n
	}
	for _, rc := range receipts {
		if rc.Side == domain.SideOver {
			add(&over, rc.Amount, "over receipts")
		} else {
			add(&under, rc.Amount, "under receipts")
		}
		if rc.Claimed {
			report.Claimed++
			add(&paid, rc.Payout, "receipt payouts")
		}
		if err := auditToken(ctx, tx, rc, &report); err != nil {
			return AuditReport{}, err
		}
	}
	if !overflowed {
		if over != pool.StakeOver || under != pool.StakeUnder {
			report.problem("stakes %d/%d, receipts sum to %d/%d", pool.StakeOver, pool.StakeUnder, over, under)
		}
		if paid != pool.PaidOut {
			report.problem("paid out %d, receipts record %d", pool.PaidOut, paid)
		}
	}
	if !pool.Settled && pool.PaidOut != 0 {
		report.problem("unsettled pool has paid out %d", pool.PaidOut)
	}

	if report.PotBalance, err = tx.Vault().Balance(ctx, domain.StakePot(pool.ID)); err != nil {
		return AuditReport{}, err
	}
	staked, err := domain.CheckedAdd(pool.StakeOver, pool.StakeUnder)
	if err != nil {
		report.problem("stakes %d/%d overflow u64", pool.StakeOver, pool.StakeUnder)
	} else if want, err := domain.CheckedSub(staked, pool.PaidOut); err != nil {
		report.problem("paid out %d exceeds stakes %d", pool.PaidOut, staked)
	} else if report.PotBalance != want {
		report.problem("stake pot holds %d, ledger expects %d", report.PotBalance, want)
	}
	if report.FeeBalance, err = tx.Vault().Balance(ctx, domain.FeeVaultAccount(pool.FeeVault)); err != nil {
		return AuditReport{}, err
	}
	if report.FeeBalance != pool.FeesAccrued {
		report.problem("fee vault holds %d, ledger expects %d", report.FeeBalance, pool.FeesAccrued)
	}
	return report, nil
}

func auditToken(ctx context.Context, tx ports.Tx, rc domain.Receipt, report *AuditReport) error {
	holding, err := tx.Tokens().Holding(ctx, rc.Token)
	if err != nil {
		return err
	}
	want := domain.UserAccount(rc.Owner)
	if rc.ForSale {
		want = domain.EscrowAccount(rc.ID)
		_, err := tx.Listings().Get(ctx, rc.ID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			report.problem("receipt %s is for sale without a listing", rc.ID.Hex())
		case err != nil:
			return err
		}
	}
	if holding.Holder != want {
		report.problem("token of receipt %s held by %s, expected %s", rc.ID.Hex(), holding.Holder, want)
	}
	return nil
}
