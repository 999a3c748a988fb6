package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func settledPool(over, under uint64, line, stat uint32, result Outcome) Pool {
	p := NewPool(PoolKey{FixtureID: 1, Sport: "NBA", StatMetric: "points", Threshold: line},
		time.Unix(2_000, 0), Address{1}, time.Unix(1_000, 0))
	p.StakeOver = over
	p.StakeUnder = under
	p.Result = result
	p.FinalStat = stat
	p.Settled = true
	return p
}

func receiptOn(side Side, amount uint64) Receipt {
	return Receipt{Side: side, Amount: amount}
}

func TestSettle_ProportionalPayout(t *testing.T) {
	// over=700 under=300, over wins: 140 * 1000 / 700 = 200
	p := settledPool(700, 300, 25, 30, OutcomeOverWins)

	win, err := Settle(p, receiptOn(SideOver, 140))
	require.NoError(t, err)
	assert.Equal(t, SettleWin, win.Kind)
	assert.Equal(t, uint64(200), win.Payout)

	loss, err := Settle(p, receiptOn(SideUnder, 300))
	require.NoError(t, err)
	assert.Equal(t, SettleLoss, loss.Kind)
	assert.Zero(t, loss.Payout)
}

func TestSettle_UnderWins(t *testing.T) {
	p := settledPool(700, 300, 25, 10, OutcomeUnderWins)

	win, err := Settle(p, receiptOn(SideUnder, 300))
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), win.Payout)
}

func TestSettle_OneSidedRefundsRegardlessOfResult(t *testing.T) {
	for _, result := range []Outcome{OutcomeOverWins, OutcomeUnderWins, OutcomeCanceled} {
		p := settledPool(1000, 0, 25, 10, result)
		s, err := Settle(p, receiptOn(SideOver, 400))
		require.NoError(t, err)
		assert.Equal(t, SettleRefund, s.Kind, result.String())
		assert.Equal(t, uint64(400), s.Payout, result.String())
	}
}

func TestSettle_PushOnExactLine(t *testing.T) {
	p := settledPool(700, 300, 25, 25, OutcomeOverWins)

	for _, side := range []Side{SideOver, SideUnder} {
		s, err := Settle(p, receiptOn(side, 100))
		require.NoError(t, err)
		assert.Equal(t, SettlePush, s.Kind)
		assert.Zero(t, s.Payout)
	}
}

func TestSettle_CanceledRefunds(t *testing.T) {
	p := settledPool(700, 300, 25, 0, OutcomeCanceled)
	s, err := Settle(p, receiptOn(SideUnder, 300))
	require.NoError(t, err)
	assert.Equal(t, SettleRefund, s.Kind)
	assert.Equal(t, uint64(300), s.Payout)
}

func TestSettle_NotSettled(t *testing.T) {
	p := settledPool(700, 300, 25, 30, OutcomeOverWins)
	p.Settled = false
	_, err := Settle(p, receiptOn(SideOver, 1))
	assert.ErrorIs(t, err, ErrPoolNotSettled)
}

func TestSettle_LargeStakesDoNotOverflowIntermediate(t *testing.T) {
	// amount * total overflows 64 bits but the quotient fits.
	big := uint64(math.MaxUint64 / 4)
	p := settledPool(big, big, 25, 30, OutcomeOverWins)
	s, err := Settle(p, receiptOn(SideOver, big))
	require.NoError(t, err)
	assert.Equal(t, big*2, s.Payout)
}

func TestSettle_TotalOverflowAborts(t *testing.T) {
	p := settledPool(math.MaxUint64, 1, 25, 30, OutcomeOverWins)
	_, err := Settle(p, receiptOn(SideOver, 1))
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestSettle_WinnersNeverExceedPot(t *testing.T) {
	// three winners with awkward ratios: floor rounding leaves dust, never a deficit
	p := settledPool(3, 7, 25, 30, OutcomeOverWins)
	var paid uint64
	for i := 0; i < 3; i++ {
		s, err := Settle(p, receiptOn(SideOver, 1))
		require.NoError(t, err)
		paid += s.Payout
	}
	assert.LessOrEqual(t, paid, uint64(10))
	assert.Equal(t, uint64(9), paid)
}
