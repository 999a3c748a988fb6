package domain

// address.go: direccionamiento determinista de registros.
//
// Cada registro persistido vive en una dirección derivada de los campos que lo
// hacen único. Pools o recibos duplicados colisionan en la misma dirección, así
// el store los rechaza sin escanear índices:
//
//	pool      = keccak256("bet_pool" | fixture LE8 | sport[32] | subject[20] | metric[32] | threshold LE4)
//	fee vault = keccak256("fee_vault" | pool)
//	receipt   = keccak256("user_pick" | bettor[20] | pool | nonce LE8)
//	token     = keccak256("mint" | receipt)

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Address identifica a un principal (apostador, admin, oráculo, comprador).
type Address = common.Address

// Hash es una dirección de registro derivada de 32 bytes.
type Hash = common.Hash

// PoolID, ReceiptID y TokenID son direcciones de registro derivadas.
type (
	PoolID    = Hash
	ReceiptID = Hash
	TokenID   = Hash
)

// fixedFieldLen es el ancho de los campos sport y stat.
const fixedFieldLen = 32

var (
	seedPool     = []byte("bet_pool")
	seedFeeVault = []byte("fee_vault")
	seedReceipt  = []byte("user_pick")
	seedMint     = []byte("mint")
)

// ZeroAddress significa "sin principal".
var ZeroAddress Address

// ParseAddress parsea una dirección hex con prefijo 0x.
func ParseAddress(s string) (Address, error) {
	if !common.IsHexAddress(s) {
		return Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// ParseHash parsea una dirección de registro hex de 32 bytes con prefijo 0x.
func ParseHash(s string) (Hash, error) {
	b := common.FromHex(s)
	if len(b) != common.HashLength {
		return Hash{}, fmt.Errorf("invalid record address %q", s)
	}
	return common.BytesToHash(b), nil
}

// fixedField rellena s con ceros por la derecha hasta 32 bytes.
func fixedField(s string) ([fixedFieldLen]byte, bool) {
	var out [fixedFieldLen]byte
	if len(s) > fixedFieldLen {
		return out, false
	}
	copy(out[:], s)
	return out, true
}

// DerivePoolID devuelve la dirección del pool para la key dada.
// La key ya debe haber pasado Validate.
func DerivePoolID(k PoolKey) PoolID {
	sport, _ := fixedField(k.Sport)
	metric, _ := fixedField(k.StatMetric)

	var fixture [8]byte
	binary.LittleEndian.PutUint64(fixture[:], k.FixtureID)
	var line [4]byte
	binary.LittleEndian.PutUint32(line[:], k.Threshold)

	return crypto.Keccak256Hash(seedPool, fixture[:], sport[:], k.Subject.Bytes(), metric[:], line[:])
}

// DeriveFeeVault devuelve la dirección del fee vault de un pool.
func DeriveFeeVault(pool PoolID) Hash {
	return crypto.Keccak256Hash(seedFeeVault, pool.Bytes())
}

// DeriveReceiptID devuelve la dirección del recibo que crea un apostador con nonce.
func DeriveReceiptID(bettor Address, pool PoolID, nonce uint64) ReceiptID {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], nonce)
	return crypto.Keccak256Hash(seedReceipt, bettor.Bytes(), pool.Bytes(), n[:])
}

// DeriveTokenID devuelve el token de propiedad emitido para un recibo.
func DeriveTokenID(receipt ReceiptID) TokenID {
	return crypto.Keccak256Hash(seedMint, receipt.Bytes())
}

// RecordKind etiqueta qué vive en una dirección derivada.
type RecordKind string

const (
	KindPool     RecordKind = "BetPool"
	KindFeeVault RecordKind = "FeeVault"
	KindReceipt  RecordKind = "UserPick"
	KindToken    RecordKind = "PickToken"
)

// Discriminator devuelve el tag fijo de 8 bytes del tipo de registro.
func (k RecordKind) Discriminator() [8]byte {
	var d [8]byte
	copy(d[:], crypto.Keccak256([]byte("account:"+string(k))))
	return d
}
