// Package auth identifies callers by secp256k1 signatures over the request.
// A principal is the address recovered from the signature; there are no
// sessions or API keys.
package auth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/nhowze/overunder/internal/domain"
)

// Request headers carrying the caller's proof.
const (
	HeaderTimestamp = "X-Timestamp"
	HeaderNonce     = "X-Nonce"
	HeaderSignature = "X-Signature"
)

// MaxNonceLen bounds the X-Nonce header.
const MaxNonceLen = 64

// ErrBadSignature is returned when a signature cannot be recovered.
var ErrBadSignature = errors.New("auth: bad signature")

// Signer holds a caller's private key.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner parses a hex private key, with or without 0x prefix.
func NewSigner(privateKeyHex string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("auth: invalid private key: %w", err)
	}
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// GenerateSigner creates a signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("auth: generate key: %w", err)
	}
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address returns the principal the signer speaks for.
func (s *Signer) Address() domain.Address { return s.address }

// PrivateKeyHex returns the key without 0x prefix.
func (s *Signer) PrivateKeyHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSA(s.key))
}

// Sign signs a 32-byte digest. The recovery byte is 27 or 28.
func (s *Signer) Sign(digest common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(digest.Bytes(), s.key)
	if err != nil {
		return nil, fmt.Errorf("auth: sign: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// SignRequest returns the headers authenticating one request at now. Every
// call draws a fresh nonce, so two signed requests never share headers.
func (s *Signer) SignRequest(method, path string, body []byte, now time.Time) (map[string]string, error) {
	ts := strconv.FormatInt(now.Unix(), 10)
	nonce := uuid.NewString()
	sig, err := s.Sign(RequestDigest(method, path, ts, nonce, body))
	if err != nil {
		return nil, err
	}
	return map[string]string{
		HeaderTimestamp: ts,
		HeaderNonce:     nonce,
		HeaderSignature: hexutil.Encode(sig),
	}, nil
}

// RequestDigest is the message a caller signs: keccak256 of the upper-case
// method, path, unix timestamp and nonce, each followed by a newline, then
// the raw body.
func RequestDigest(method, path, timestamp, nonce string, body []byte) common.Hash {
	buf := make([]byte, 0, len(method)+len(path)+len(timestamp)+len(nonce)+len(body)+4)
	for _, field := range []string{strings.ToUpper(method), path, timestamp, nonce} {
		buf = append(buf, field...)
		buf = append(buf, '\n')
	}
	buf = append(buf, body...)
	return crypto.Keccak256Hash(buf)
}

// Recover returns the address that produced sig over digest. It accepts a
// recovery byte of 0/1 or 27/28.
func Recover(digest common.Hash, sig []byte) (domain.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return domain.Address{}, fmt.Errorf("%w: length %d", ErrBadSignature, len(sig))
	}
	cp := make([]byte, len(sig))
	copy(cp, sig)
	if cp[64] >= 27 {
		cp[64] -= 27
	}
	pub, err := crypto.SigToPub(digest.Bytes(), cp)
	if err != nil {
		return domain.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// RecoverHex decodes a 0x-prefixed signature and recovers its signer.
func RecoverHex(digest common.Hash, sigHex string) (domain.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return domain.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return Recover(digest, sig)
}
