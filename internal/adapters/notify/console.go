package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/nhowze/overunder/internal/domain"
	"github.com/nhowze/overunder/internal/ports"
	"github.com/olekukonko/tablewriter"
)

// Console implementa ports.EventSink imprimiendo una línea por evento.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

var _ ports.EventSink = (*Console)(nil)

// NewConsole escribe en stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter escribe en w.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// Publish imprime los eventos.
func (c *Console) Publish(_ context.Context, events ...domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range events {
		fmt.Fprintln(c.out, eventLine(ev))
	}
	return nil
}

func eventLine(ev domain.Event) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %-16s", ev.At.Format("15:04:05"), ev.Type)
	if ev.Pool != nil {
		fmt.Fprintf(&sb, " pool=%s", short(ev.Pool.Hex()))
	}
	if ev.Receipt != nil {
		fmt.Fprintf(&sb, " receipt=%s", short(ev.Receipt.Hex()))
	}
	fmt.Fprintf(&sb, " by=%s", short(ev.Actor.Hex()))
	if ev.Side != "" {
		fmt.Fprintf(&sb, " %s", ev.Side)
	}
	if ev.Outcome != "" {
		fmt.Fprintf(&sb, " %s", ev.Outcome)
	}
	if ev.Settlement != "" {
		fmt.Fprintf(&sb, " %s", ev.Settlement)
	}
	fmt.Fprintf(&sb, " amount=%d", ev.Amount)
	if ev.Fee > 0 {
		fmt.Fprintf(&sb, " fee=%d", ev.Fee)
	}
	if ev.Account != "" {
		fmt.Fprintf(&sb, " → %s", shortAccount(ev.Account))
	}
	return sb.String()
}

// PoolReport imprime el ledger de un pool y todos sus recibos. Con el pool ya
// liquidado, cada fila muestra lo que paga su claim.
func (c *Console) PoolReport(pool domain.Pool, receipts []domain.Receipt) {
	c.mu.Lock()
	defer c.mu.Unlock()

	total, _ := pool.TotalStake()
	fmt.Fprintf(c.out, "\nPool %s\n", pool.ID.Hex())
	fmt.Fprintf(c.out, "  fixture %d %s | %s %s line %d | deadline %s\n",
		pool.Key.FixtureID, pool.Key.Sport, short(pool.Key.Subject.Hex()), pool.Key.StatMetric,
		pool.Key.Threshold, pool.Deadline.Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(c.out, "  over %d | under %d | pot %d | fees %d | paid %d\n",
		pool.StakeOver, pool.StakeUnder, total, pool.FeesAccrued, pool.PaidOut)
	if pool.Settled {
		fmt.Fprintf(c.out, "  result %s (stat %d)\n", pool.Result, pool.FinalStat)
	} else {
		fmt.Fprintf(c.out, "  result pending\n")
	}

	if len(receipts) == 0 {
		fmt.Fprintln(c.out, "  no receipts")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Receipt", "Owner", "Side", "Stake", "State", "Settles", "Payout")
	for i, r := range receipts {
		kind, payout := "-", "-"
		if s, err := domain.Settle(pool, r); err == nil {
			kind = string(s.Kind)
			payout = fmt.Sprintf("%d", s.Payout)
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			short(r.ID.Hex()),
			short(r.Owner.Hex()),
			r.Side.String(),
			fmt.Sprintf("%d", r.Amount),
			receiptState(r),
			kind,
			payout,
		)
	}
	table.Render()
}

// AuditRow es un pool conciliado, tal como lo imprime AuditReport.
type AuditRow struct {
	Pool       domain.PoolID
	Settled    bool
	Receipts   int
	Claimed    int
	PotBalance uint64
	FeeBalance uint64
	Problems   []string
}

// AuditReport imprime una fila por pool seguida de cada problema encontrado.
func (c *Console) AuditReport(rows []AuditRow) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(rows) == 0 {
		fmt.Fprintln(c.out, "no pools")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Pool", "Settled", "Receipts", "Claimed", "Pot", "Fees", "Status")
	var problems []string
	for _, r := range rows {
		status := "ok"
		if len(r.Problems) > 0 {
			status = fmt.Sprintf("%d problems", len(r.Problems))
			for _, p := range r.Problems {
				problems = append(problems, short(r.Pool.Hex())+": "+p)
			}
		}
		table.Append(
			short(r.Pool.Hex()),
			fmt.Sprintf("%t", r.Settled),
			fmt.Sprintf("%d", r.Receipts),
			fmt.Sprintf("%d", r.Claimed),
			fmt.Sprintf("%d", r.PotBalance),
			fmt.Sprintf("%d", r.FeeBalance),
			status,
		)
	}
	table.Render()
	for _, p := range problems {
		fmt.Fprintln(c.out, "  ! "+p)
	}
}

func receiptState(r domain.Receipt) string {
	switch {
	case r.Claimed:
		return "claimed"
	case r.ForSale:
		return string(domain.Listed)
	default:
		return "open"
	}
}

// short abrevia un string hex a 0x1234…abcd.
func short(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:6] + "…" + h[len(h)-4:]
}

func shortAccount(a domain.Account) string {
	s := string(a)
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return s
	}
	return s[:i+1] + short(s[i+1:])
}
