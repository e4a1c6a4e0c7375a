package devicesig

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"strings"

	"accesscontrol/internal/domain"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ParsePrivateKeyHex accepts a 32 byte secp256k1 scalar, with or without a
// 0x prefix.
func ParsePrivateKeyHex(value string) (*ecdsa.PrivateKey, error) {
	value = strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(value)
	if err != nil {
		return nil, err
	}
	if len(raw) != 32 {
		return nil, errors.New("invalid secp256k1 private key length")
	}
	return ethcrypto.ToECDSA(raw)
}

func GenerateKey() (*ecdsa.PrivateKey, error) {
	return ethcrypto.GenerateKey()
}

func EncodePrivateKeyHex(key *ecdsa.PrivateKey) string {
	return hex.EncodeToString(ethcrypto.FromECDSA(key))
}

// Address is the identity a device registers as its bound key.
func Address(key *ecdsa.PrivateKey) domain.Address {
	return ethcrypto.PubkeyToAddress(key.PublicKey)
}
