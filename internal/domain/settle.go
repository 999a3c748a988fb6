package domain

// SettlementKind clasifica cómo se resuelve un claim.
type SettlementKind string

const (
	SettleRefund SettlementKind = "REFUND" // pool de un solo lado o resultado cancelado
	SettlePush   SettlementKind = "PUSH"   // stat final justo en la línea
	SettleLoss   SettlementKind = "LOSS"
	SettleWin    SettlementKind = "WIN"
)

// Settlement es el resultado de un claim.
type Settlement struct {
	Kind   SettlementKind
	Payout uint64
}

// Settle calcula el claim del recibo contra un snapshot del pool liquidado.
// Es pura: el mismo pool y recibo dan siempre el mismo resultado, y no revisa
// el estado del claim ni la propiedad.
//
//   - pool de un solo lado (algún lado con stake cero): refund del monto exacto
//   - cancelado: refund del monto exacto
//   - stat final == threshold: push, payout cero
//   - lado perdedor: payout cero
//   - lado ganador: floor(amount * (over+under) / winningSideTotal)
func Settle(pool Pool, receipt Receipt) (Settlement, error) {
	if !pool.Settled {
		return Settlement{}, ErrPoolNotSettled
	}
	if pool.OneSided() || pool.Result == OutcomeCanceled {
		return Settlement{Kind: SettleRefund, Payout: receipt.Amount}, nil
	}

	overWins := pool.FinalStat > pool.Key.Threshold
	underWins := pool.FinalStat < pool.Key.Threshold
	if !overWins && !underWins {
		return Settlement{Kind: SettlePush}, nil
	}

	winner := Side(overWins)
	if receipt.Side != winner {
		return Settlement{Kind: SettleLoss}, nil
	}

	total, err := pool.TotalStake()
	if err != nil {
		return Settlement{}, err
	}
	winnerTotal := pool.StakeUnder
	if winner == SideOver {
		winnerTotal = pool.StakeOver
	}
	payout, err := MulDiv(receipt.Amount, total, winnerTotal)
	if err != nil {
		return Settlement{}, err
	}
	return Settlement{Kind: SettleWin, Payout: payout}, nil
}
