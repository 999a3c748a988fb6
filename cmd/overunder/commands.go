package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/nhowze/overunder/internal/adapters/auth"
	"github.com/nhowze/overunder/internal/adapters/notify"
	"github.com/nhowze/overunder/internal/application/settlement"
	"github.com/nhowze/overunder/internal/domain"
	"github.com/nhowze/overunder/internal/server"
)

func dispatch(ctx context.Context, a *app, name string, args []string, keyHex string) error {
	switch name {
	case "serve":
		return runServe(ctx, a)
	case "audit":
		return runAudit(ctx, a, args)
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	var run func(caller domain.Address) error
	needsKey := true

	switch name {
	case "report":
		pool := fs.String("pool", "", "pool address")
		needsKey = false
		run = func(domain.Address) error {
			id, err := domain.ParseHash(*pool)
			if err != nil {
				return err
			}
			p, err := a.venue.Pool(ctx, id)
			if err != nil {
				return err
			}
			receipts, err := a.venue.Receipts(ctx, id)
			if err != nil {
				return err
			}
			a.console.PoolReport(p, receipts)
			return nil
		}

	case "balance":
		addr := fs.String("addr", "", "account owner address")
		needsKey = false
		run = func(domain.Address) error {
			owner, err := domain.ParseAddress(*addr)
			if err != nil {
				return err
			}
			bal, err := a.venue.Balance(ctx, domain.UserAccount(owner))
			if err != nil {
				return err
			}
			fmt.Printf("%s  %d\n", owner.Hex(), bal)
			return nil
		}

	case "open":
		fixture := fs.Uint64("fixture", 0, "fixture id")
		sport := fs.String("sport", "", "sport code, e.g. NBA")
		subject := fs.String("subject", "", "player or team address")
		metric := fs.String("metric", "", "stat metric, e.g. points")
		threshold := fs.Uint("threshold", 0, "stat line")
		closesIn := fs.Duration("closes-in", 2*time.Hour, "time until betting closes")
		authority := fs.String("authority", "", "result authority address (default: admin)")
		run = func(caller domain.Address) error {
			subj, err := domain.ParseAddress(*subject)
			if err != nil {
				return fmt.Errorf("subject: %w", err)
			}
			line, err := toUint32("threshold", *threshold)
			if err != nil {
				return err
			}
			resolver := domain.ZeroAddress
			if *authority != "" {
				if resolver, err = domain.ParseAddress(*authority); err != nil {
					return fmt.Errorf("authority: %w", err)
				}
			}
			p, err := a.venue.OpenPool(ctx, settlement.OpenPoolRequest{
				Key: domain.PoolKey{
					FixtureID:  *fixture,
					Sport:      *sport,
					Subject:    subj,
					StatMetric: *metric,
					Threshold:  line,
				},
				Deadline:  time.Now().Add(*closesIn),
				Authority: resolver,
			}, caller)
			if err != nil {
				return err
			}
			fmt.Println(p.ID.Hex())
			return nil
		}

	case "deposit":
		to := fs.String("to", "", "account owner address")
		amount := fs.Uint64("amount", 0, "amount to credit")
		run = func(caller domain.Address) error {
			addr, err := domain.ParseAddress(*to)
			if err != nil {
				return err
			}
			return a.venue.Deposit(ctx, addr, *amount, caller)
		}

	case "bet":
		pool := fs.String("pool", "", "pool address")
		side := fs.String("side", "", "over|under")
		gross := fs.Uint64("gross", 0, "gross stake, fee included")
		nonce := fs.Uint64("nonce", 0, "receipt nonce, unique per pool and bettor")
		run = func(caller domain.Address) error {
			id, err := domain.ParseHash(*pool)
			if err != nil {
				return err
			}
			s, err := domain.ParseSide(*side)
			if err != nil {
				return err
			}
			rc, err := a.venue.PlaceBet(ctx, settlement.PlaceBetRequest{Pool: id, Gross: *gross, Side: s, Nonce: *nonce}, caller)
			if err != nil {
				return err
			}
			fmt.Println(rc.ID.Hex())
			return nil
		}

	case "publish":
		pool := fs.String("pool", "", "pool address")
		outcome := fs.String("outcome", "", "over_wins|under_wins|canceled")
		stat := fs.Uint("stat", 0, "final stat")
		run = func(caller domain.Address) error {
			id, err := domain.ParseHash(*pool)
			if err != nil {
				return err
			}
			o, err := domain.ParseOutcome(*outcome)
			if err != nil {
				return err
			}
			final, err := toUint32("stat", *stat)
			if err != nil {
				return err
			}
			_, err = a.venue.PublishResult(ctx, settlement.PublishRequest{Pool: id, Outcome: o, FinalStat: final}, caller)
			return err
		}

	case "claim":
		receipt := fs.String("receipt", "", "receipt address")
		recipient := fs.String("recipient", "", "payout recipient (default: caller)")
		run = func(caller domain.Address) error {
			id, err := domain.ParseHash(*receipt)
			if err != nil {
				return err
			}
			to, err := addressOr(*recipient, caller)
			if err != nil {
				return err
			}
			rc, err := a.venue.Receipt(ctx, id)
			if err != nil {
				return err
			}
			res, err := a.venue.Claim(ctx, settlement.ClaimRequest{Pool: rc.Pool, Receipt: id, Recipient: to}, caller)
			if err != nil {
				return err
			}
			fmt.Printf("%s  %d\n", res.Settlement.Kind, res.Settlement.Payout)
			return nil
		}

	case "withdraw":
		pool := fs.String("pool", "", "pool address")
		recipient := fs.String("recipient", "", "fee recipient (default: caller)")
		run = func(caller domain.Address) error {
			id, err := domain.ParseHash(*pool)
			if err != nil {
				return err
			}
			to, err := addressOr(*recipient, caller)
			if err != nil {
				return err
			}
			amount, err := a.venue.WithdrawFees(ctx, id, to, caller)
			if err != nil {
				return err
			}
			fmt.Println(amount)
			return nil
		}

	case "list", "delist", "reclaim":
		receipt := fs.String("receipt", "", "receipt address")
		run = func(caller domain.Address) error {
			id, err := domain.ParseHash(*receipt)
			if err != nil {
				return err
			}
			switch name {
			case "list":
				_, err = a.venue.List(ctx, id, caller)
			case "delist":
				err = a.venue.Delist(ctx, id, caller)
			default:
				err = a.venue.Reclaim(ctx, id, caller)
			}
			return err
		}

	case "buy":
		receipt := fs.String("receipt", "", "receipt address")
		price := fs.Uint64("price", 0, "price paid to the seller, royalty included")
		run = func(caller domain.Address) error {
			id, err := domain.ParseHash(*receipt)
			if err != nil {
				return err
			}
			_, err = a.venue.Buy(ctx, settlement.BuyRequest{Receipt: id, Price: *price}, caller)
			return err
		}

	default:
		return fmt.Errorf("unknown command %q", name)
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	var caller domain.Address
	if needsKey {
		if keyHex == "" {
			return fmt.Errorf("%s needs a caller key: pass -key or set OVERUNDER_KEY", name)
		}
		signer, err := auth.NewSigner(keyHex)
		if err != nil {
			return err
		}
		caller = signer.Address()
		slog.Debug("caller", "address", caller.Hex())
	}
	return run(caller)
}

func runServe(ctx context.Context, a *app) error {
	if a.engine == nil {
		return fmt.Errorf("serve runs against the local ledger; drop -remote")
	}
	srv := server.NewServer(server.Config{
		Addr:       a.cfg.Server.Addr,
		MaxSkew:    a.cfg.Server.MaxSkew,
		RatePerSec: a.cfg.Server.RatePerSec,
		Burst:      a.cfg.Server.Burst,
		TrustProxy: a.cfg.Server.TrustProxy,
	}, a.engine, a.nonces, a.store.Ping, slog.Default())

	slog.Info("overunder serving",
		"addr", a.cfg.Server.Addr,
		"admin", a.engine.Config().Admin.Hex(),
		"fee_bps", a.engine.Config().FeeBPS,
	)
	if err := srv.Run(ctx); err != nil {
		return err
	}
	slog.Info("overunder stopped cleanly")
	return nil
}

func runAudit(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	workers := fs.Int("workers", 0, "concurrent pool audits (default NumCPU×2)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.engine == nil {
		return fmt.Errorf("audit reads the local ledger; drop -remote")
	}

	reports, err := a.engine.Audit(ctx, *workers)
	if err != nil {
		return err
	}
	rows := make([]notify.AuditRow, 0, len(reports))
	unbalanced := 0
	for _, r := range reports {
		if !r.OK() {
			unbalanced++
		}
		rows = append(rows, notify.AuditRow{
			Pool:       r.Pool,
			Settled:    r.Settled,
			Receipts:   r.Receipts,
			Claimed:    r.Claimed,
			PotBalance: r.PotBalance,
			FeeBalance: r.FeeBalance,
			Problems:   r.Problems,
		})
	}
	a.console.AuditReport(rows)
	if unbalanced > 0 {
		return fmt.Errorf("%d of %d pools out of balance", unbalanced, len(reports))
	}
	return nil
}

func runKeygen() error {
	s, err := auth.GenerateSigner()
	if err != nil {
		return err
	}
	fmt.Printf("address: %s\nkey:     %s\n", s.Address().Hex(), s.PrivateKeyHex())
	return nil
}

// toUint32 reduce el valor de un flag a uint32 y rechaza lo que no cabe en una línea de stat.
func toUint32(flagName string, v uint) (uint32, error) {
	if uint64(v) > math.MaxUint32 {
		return 0, fmt.Errorf("-%s %d exceeds %d", flagName, v, uint32(math.MaxUint32))
	}
	return uint32(v), nil
}

func addressOr(s string, fallback domain.Address) (domain.Address, error) {
	if s == "" {
		return fallback, nil
	}
	return domain.ParseAddress(s)
}
