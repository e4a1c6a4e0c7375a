package devicesig

import (
	"crypto/ecdsa"
	"errors"

	"accesscontrol/internal/domain"
	cryptoinfra "accesscontrol/internal/infra/crypto"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var signer = &cryptoinfra.Service{}

// Fingerprint is the keccak256 digest of the serialized credential. Only the
// digest is ever sent to the registry.
func Fingerprint(credential []byte) domain.Hash {
	return ethcrypto.Keccak256Hash(credential)
}

// SignRevocation produces the device signature the registry expects for a
// revocation: a personal-message signature over the 32 fingerprint bytes.
func SignRevocation(key *ecdsa.PrivateKey, fingerprint domain.Hash) ([]byte, error) {
	if domain.IsZeroHash(fingerprint) {
		return nil, domain.ErrZeroFingerprint
	}
	return SignMessage(key, fingerprint.Bytes())
}

// SignBatch signs each fingerprint in order.
func SignBatch(key *ecdsa.PrivateKey, fingerprints []domain.Hash) ([][]byte, error) {
	out := make([][]byte, 0, len(fingerprints))
	for _, fp := range fingerprints {
		sig, err := SignRevocation(key, fp)
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, nil
}

func SignMessage(key *ecdsa.PrivateKey, message []byte) ([]byte, error) {
	if key == nil {
		return nil, errors.New("private key is required")
	}
	return signer.Sign(message, key)
}

// Verify reports whether signature over message recovers to expected.
func Verify(expected domain.Address, message, signature []byte) bool {
	addr, err := signer.RecoverSigner(message, signature)
	if err != nil {
		return false
	}
	return addr == expected
}
