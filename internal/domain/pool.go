package domain

import (
	"fmt"
	"strings"
	"time"
)

// PoolVersion es la versión de layout que se escribe en cada pool nuevo.
const PoolVersion uint8 = 1

// Outcome es el resultado publicado de un pool.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeOverWins
	OutcomeUnderWins
	OutcomeCanceled
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeOverWins:
		return "over_wins"
	case OutcomeUnderWins:
		return "under_wins"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Terminal indica si o cierra el ciclo de vida del pool.
func (o Outcome) Terminal() bool {
	return o == OutcomeOverWins || o == OutcomeUnderWins || o == OutcomeCanceled
}

// ParseOutcome acepta la forma String sin distinguir mayúsculas, más "over"/"under".
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return OutcomePending, nil
	case "over_wins", "overwins", "over":
		return OutcomeOverWins, nil
	case "under_wins", "underwins", "under":
		return OutcomeUnderWins, nil
	case "canceled", "cancelled":
		return OutcomeCanceled, nil
	}
	return OutcomePending, fmt.Errorf("unknown outcome %q", s)
}

// Side es el lado de una apuesta. Over es true.
type Side bool

const (
	SideOver  Side = true
	SideUnder Side = false
)

func (s Side) String() string {
	if s == SideOver {
		return "over"
	}
	return "under"
}

// ParseSide acepta "over" o "under".
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "over":
		return SideOver, nil
	case "under":
		return SideUnder, nil
	}
	return SideUnder, fmt.Errorf("unknown side %q", s)
}

// PoolKey contiene los campos de los que se deriva la dirección del pool.
type PoolKey struct {
	FixtureID  uint64
	Sport      string  // p.ej. "NBA", máximo 32 bytes
	Subject    Address // jugador o equipo dueño de la estadística
	StatMetric string  // p.ej. "points", máximo 32 bytes
	Threshold  uint32  // línea que separa over de under
}

// Validate comprueba el dominio de la key al crear el pool.
func (k PoolKey) Validate() error {
	if k.FixtureID == 0 {
		return ErrInvalidFixture
	}
	if _, ok := fixedField(k.Sport); !ok {
		return fmt.Errorf("%w: sport name longer than %d bytes", ErrInvalidFixture, fixedFieldLen)
	}
	if k.Threshold == 0 {
		return ErrInvalidStatLine
	}
	if _, ok := fixedField(k.StatMetric); !ok {
		return fmt.Errorf("%w: stat name longer than %d bytes", ErrInvalidStatLine, fixedFieldLen)
	}
	return nil
}

// Pool es el ledger de una única propuesta over/under.
type Pool struct {
	ID          PoolID
	Key         PoolKey
	Deadline    time.Time
	StakeOver   uint64 // stake neto en over
	StakeUnder  uint64 // stake neto en under
	FeesAccrued uint64
	PaidOut     uint64 // total debitado del pot por los claims
	Result      Outcome
	FinalStat   uint32
	Settled     bool
	Authority   Address
	FeeVault    Hash
	Version     uint8
	CreatedAt   time.Time
	SettledAt   *time.Time
}

// NewPool construye un pool nuevo en Pending. No valida la key.
func NewPool(key PoolKey, deadline time.Time, authority Address, now time.Time) Pool {
	id := DerivePoolID(key)
	return Pool{
		ID:        id,
		Key:       key,
		Deadline:  deadline,
		Result:    OutcomePending,
		Authority: authority,
		FeeVault:  DeriveFeeVault(id),
		Version:   PoolVersion,
		CreatedAt: now,
	}
}

// TotalStake devuelve over + under y falla si desborda.
func (p Pool) TotalStake() (uint64, error) {
	return CheckedAdd(p.StakeOver, p.StakeUnder)
}

// OneSided indica si nunca hubo stake en el lado contrario.
func (p Pool) OneSided() bool {
	return p.StakeOver == 0 || p.StakeUnder == 0
}

// BettingOpen indica si todavía se aceptan apuestas en now.
func (p Pool) BettingOpen(now time.Time) bool {
	return !p.Settled && now.Before(p.Deadline)
}

// CheckFeeVault verifica que el fee vault guardado coincida con su dirección derivada.
func (p Pool) CheckFeeVault() error {
	if p.FeeVault != DeriveFeeVault(p.ID) {
		return ErrInvalidFeeVault
	}
	return nil
}

// AddStake registra stake neto en un lado.
func (p *Pool) AddStake(side Side, net uint64) error {
	if side == SideOver {
		v, err := CheckedAdd(p.StakeOver, net)
		if err != nil {
			return err
		}
		p.StakeOver = v
		return nil
	}
	v, err := CheckedAdd(p.StakeUnder, net)
	if err != nil {
		return err
	}
	p.StakeUnder = v
	return nil
}

// Publish lleva el pool a su estado terminal. Es la única transición que sale
// de Pending.
func (p *Pool) Publish(result Outcome, finalStat uint32, now time.Time) error {
	if p.Result != OutcomePending || p.Settled {
		return ErrAlreadyPublished
	}
	if !result.Terminal() {
		return fmt.Errorf("%w: %s is not a terminal result", ErrInvalidResult, result)
	}
	switch {
	case result == OutcomeOverWins && finalStat < p.Key.Threshold:
		return fmt.Errorf("%w: over_wins with stat %d below line %d", ErrInvalidResult, finalStat, p.Key.Threshold)
	case result == OutcomeUnderWins && finalStat > p.Key.Threshold:
		return fmt.Errorf("%w: under_wins with stat %d above line %d", ErrInvalidResult, finalStat, p.Key.Threshold)
	}
	p.Result = result
	p.FinalStat = finalStat
	p.Settled = true
	p.SettledAt = &now
	return nil
}
