package crypto

import (
	"crypto/ecdsa"
	"errors"
	"math/big"

	"accesscontrol/internal/domain"

	"github.com/ethereum/go-ethereum/accounts"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const SignatureLength = 65

var (
	ErrMalformedSignature = errors.New("malformed signature")
	ErrMalleableSignature = errors.New("signature s value in upper half order")
)

// Service recovers signers from personal-message signatures. The message is
// always hashed with the "\x19Ethereum Signed Message:\n<len>" prefix, so a
// raw transaction signature can never pass as an authentication signature.
type Service struct{}

func (s *Service) MessageHash(message []byte) []byte {
	return accounts.TextHash(message)
}

func (s *Service) RecoverSigner(message, signature []byte) (domain.Address, error) {
	sig, err := normalizeSignature(signature)
	if err != nil {
		return domain.Address{}, err
	}
	pub, err := ethcrypto.SigToPub(s.MessageHash(message), sig)
	if err != nil {
		return domain.Address{}, ErrMalformedSignature
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Sign produces a 65 byte r||s||v signature with v in {27,28}, the form
// wallets and device firmware emit.
func (s *Service) Sign(message []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, errors.New("private key is required")
	}
	sig, err := ethcrypto.Sign(s.MessageHash(message), key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

func AddressFromKey(key *ecdsa.PrivateKey) domain.Address {
	return ethcrypto.PubkeyToAddress(key.PublicKey)
}

func normalizeSignature(signature []byte) ([]byte, error) {
	if len(signature) != SignatureLength {
		return nil, ErrMalformedSignature
	}
	sig := make([]byte, SignatureLength)
	copy(sig, signature)
	switch sig[64] {
	case 27, 28:
		sig[64] -= 27
	case 0, 1:
	default:
		return nil, ErrMalformedSignature
	}
	n := ethcrypto.S256().Params().N
	r := new(big.Int).SetBytes(sig[:32])
	sVal := new(big.Int).SetBytes(sig[32:64])
	if r.Sign() <= 0 || sVal.Sign() <= 0 || r.Cmp(n) >= 0 || sVal.Cmp(n) >= 0 {
		return nil, ErrMalformedSignature
	}
	if sVal.Cmp(new(big.Int).Rsh(n, 1)) > 0 {
		return nil, ErrMalleableSignature
	}
	return sig, nil
}
