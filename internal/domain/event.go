package domain

import "time"

// EventType nombra una operación confirmada del motor.
type EventType string

const (
	EventPoolOpened      EventType = "pool_opened"
	EventBetPlaced       EventType = "bet_placed"
	EventResultPublished EventType = "result_published"
	EventClaimed         EventType = "claimed"
	EventFeesWithdrawn   EventType = "fees_withdrawn"
	EventListed          EventType = "listed"
	EventDelisted        EventType = "delisted"
	EventSold            EventType = "sold"
	EventReclaimed       EventType = "reclaimed"
	EventDeposited       EventType = "deposited"
)

// Event se emite después del commit de una operación. Los campos que no
// aplican al tipo de evento quedan en cero.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Pool       *PoolID        `json:"pool,omitempty"`
	Receipt    *ReceiptID     `json:"receipt,omitempty"`
	Actor      Address        `json:"actor"`
	Account    Account        `json:"account,omitempty"`
	Side       string         `json:"side,omitempty"`
	Amount     uint64         `json:"amount"`
	Fee        uint64         `json:"fee,omitempty"`
	Outcome    string         `json:"outcome,omitempty"`
	Settlement SettlementKind `json:"settlement,omitempty"`
	At         time.Time      `json:"at"`
}
