package domain

import (
	"github.com/ethereum/go-ethereum/common"
)

// Address is an account identity derived from a secp256k1 public key.
type Address = common.Address

// Hash is a fixed-width 32 byte digest. Credential fingerprints use it.
type Hash = common.Hash

type DeviceID uint64

// DeviceRecord is the registry's view of one lock. BoundKey is set at
// registration and never changes.
type DeviceRecord struct {
	ID           DeviceID
	Owner        Address
	BoundKey     Address
	RevokedCount uint64
	Exists       bool
}

type DeviceInfo struct {
	Owner        Address `json:"owner"`
	BoundKey     Address `json:"bound_key"`
	RevokedCount uint64  `json:"revoked_count"`
	Exists       bool    `json:"exists"`
}

func (r DeviceRecord) Info() DeviceInfo {
	return DeviceInfo{
		Owner:        r.Owner,
		BoundKey:     r.BoundKey,
		RevokedCount: r.RevokedCount,
		Exists:       r.Exists,
	}
}

func IsZeroAddress(a Address) bool {
	return a == (Address{})
}

func IsZeroHash(h Hash) bool {
	return h == (Hash{})
}
