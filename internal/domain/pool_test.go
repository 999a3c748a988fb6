package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() PoolKey {
	return PoolKey{
		FixtureID:  1234,
		Sport:      "NBA",
		Subject:    Address{0xaa},
		StatMetric: "points",
		Threshold:  25,
	}
}

func TestPoolKey_Validate(t *testing.T) {
	assert.NoError(t, testKey().Validate())

	k := testKey()
	k.FixtureID = 0
	assert.ErrorIs(t, k.Validate(), ErrInvalidFixture)

	k = testKey()
	k.Threshold = 0
	assert.ErrorIs(t, k.Validate(), ErrInvalidStatLine)

	k = testKey()
	k.StatMetric = strings.Repeat("x", 33)
	assert.ErrorIs(t, k.Validate(), ErrInvalidStatLine)

	k = testKey()
	k.Sport = strings.Repeat("x", 33)
	assert.ErrorIs(t, k.Validate(), ErrInvalidFixture)
}

func TestDerivePoolID_DeterministicAndOrderSensitive(t *testing.T) {
	a := DerivePoolID(testKey())
	assert.Equal(t, a, DerivePoolID(testKey()))

	k := testKey()
	k.Threshold = 26
	assert.NotEqual(t, a, DerivePoolID(k))

	// swapping sport and metric must give a different address
	k = testKey()
	k.Sport, k.StatMetric = k.StatMetric, k.Sport
	assert.NotEqual(t, a, DerivePoolID(k))
}

func TestDeriveReceiptID_NonceMatters(t *testing.T) {
	pool := DerivePoolID(testKey())
	bettor := Address{0x01}
	assert.NotEqual(t, DeriveReceiptID(bettor, pool, 1), DeriveReceiptID(bettor, pool, 2))
	assert.NotEqual(t, DeriveReceiptID(bettor, pool, 1), DeriveReceiptID(Address{0x02}, pool, 1))
	assert.NotEqual(t, DeriveTokenID(DeriveReceiptID(bettor, pool, 1)), DeriveReceiptID(bettor, pool, 1))
}

func TestRecordKind_DiscriminatorsDiffer(t *testing.T) {
	assert.NotEqual(t, KindPool.Discriminator(), KindReceipt.Discriminator())
	assert.NotEqual(t, KindToken.Discriminator(), KindFeeVault.Discriminator())
}

func TestPool_PublishOnce(t *testing.T) {
	now := time.Unix(1_000, 0)
	p := NewPool(testKey(), now.Add(time.Hour), Address{1}, now)
	require.NoError(t, p.CheckFeeVault())

	require.NoError(t, p.Publish(OutcomeOverWins, 30, now))
	assert.True(t, p.Settled)
	assert.Equal(t, OutcomeOverWins, p.Result)

	err := p.Publish(OutcomeUnderWins, 10, now)
	assert.ErrorIs(t, err, ErrAlreadyPublished)
	assert.Equal(t, OutcomeOverWins, p.Result)
	assert.Equal(t, uint32(30), p.FinalStat)
}

func TestPool_PublishRejectsInconsistentResult(t *testing.T) {
	now := time.Unix(1_000, 0)
	p := NewPool(testKey(), now.Add(time.Hour), Address{1}, now)

	assert.ErrorIs(t, p.Publish(OutcomePending, 30, now), ErrInvalidResult)
	assert.ErrorIs(t, p.Publish(OutcomeOverWins, 24, now), ErrInvalidResult)
	assert.ErrorIs(t, p.Publish(OutcomeUnderWins, 26, now), ErrInvalidResult)
	assert.False(t, p.Settled)

	// a stat exactly on the line may be published under either side
	require.NoError(t, p.Publish(OutcomeUnderWins, 25, now))
}

func TestPool_CheckFeeVault(t *testing.T) {
	p := NewPool(testKey(), time.Unix(2_000, 0), Address{1}, time.Unix(1_000, 0))
	p.FeeVault = Hash{0xff}
	assert.ErrorIs(t, p.CheckFeeVault(), ErrInvalidFeeVault)
}

func TestPool_BettingOpen(t *testing.T) {
	now := time.Unix(1_000, 0)
	p := NewPool(testKey(), now.Add(time.Minute), Address{1}, now)
	assert.True(t, p.BettingOpen(now))
	assert.False(t, p.BettingOpen(now.Add(time.Minute)))
}

func TestParseOutcomeAndSide(t *testing.T) {
	o, err := ParseOutcome("OVER_WINS")
	require.NoError(t, err)
	assert.Equal(t, OutcomeOverWins, o)

	_, err = ParseOutcome("draw")
	assert.Error(t, err)

	s, err := ParseSide("under")
	require.NoError(t, err)
	assert.Equal(t, SideUnder, s)
}

func TestTokenHolding_CheckEscrowCustody(t *testing.T) {
	h := TokenHolding{Amount: 1}
	assert.NoError(t, h.CheckEscrowCustody())

	h.Amount = 0
	assert.ErrorIs(t, h.CheckEscrowCustody(), ErrInvalidTokenBalance)

	h = TokenHolding{Amount: 1, Delegate: Address{9}}
	assert.ErrorIs(t, h.CheckEscrowCustody(), ErrUnexpectedDelegate)

	h = TokenHolding{Amount: 1, CloseAuthority: Address{9}}
	assert.ErrorIs(t, h.CheckEscrowCustody(), ErrUnexpectedCloseAuthority)
}
