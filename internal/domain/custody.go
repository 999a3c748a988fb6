package domain

import "strings"

// Account nombra un registro de custodia con valor fungible o tokens de propiedad.
type Account string

const (
	accountUser   = "user:"
	accountPot    = "pot:"
	accountFee    = "fee:"
	accountEscrow = "escrow:"
)

// UserAccount es el registro de custodia de un principal.
func UserAccount(a Address) Account { return Account(accountUser + a.Hex()) }

// StakePot guarda los stakes netos de un pool hasta que se reclaman.
func StakePot(pool PoolID) Account { return Account(accountPot + pool.Hex()) }

// FeeVaultAccount guarda los fees retenidos de un pool.
func FeeVaultAccount(vault Hash) Account { return Account(accountFee + vault.Hex()) }

// EscrowAccount guarda el token de un recibo mientras está listado.
func EscrowAccount(receipt ReceiptID) Account { return Account(accountEscrow + receipt.Hex()) }

// IsUser indica si la cuenta pertenece a un principal.
func (a Account) IsUser() bool { return strings.HasPrefix(string(a), accountUser) }

// Owner devuelve el principal de una cuenta de usuario.
func (a Account) Owner() (Address, bool) {
	if !a.IsUser() {
		return ZeroAddress, false
	}
	owner, err := ParseAddress(strings.TrimPrefix(string(a), accountUser))
	return owner, err == nil
}

// TokenHolding es el registro de custodia de un token de propiedad.
type TokenHolding struct {
	Token          TokenID
	Holder         Account
	Amount         uint64
	Delegate       Address
	CloseAuthority Address
}

// CheckEscrowCustody verifica que solo la lógica de escrow pueda mover el
// holding: exactamente una unidad, sin delegate y sin close authority.
func (h TokenHolding) CheckEscrowCustody() error {
	if h.Amount != 1 {
		return ErrInvalidTokenBalance
	}
	if h.Delegate != ZeroAddress {
		return ErrUnexpectedDelegate
	}
	if h.CloseAuthority != ZeroAddress {
		return ErrUnexpectedCloseAuthority
	}
	return nil
}
