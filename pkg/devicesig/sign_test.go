package devicesig

import (
	"errors"
	"testing"

	"accesscontrol/internal/domain"

	"github.com/ethereum/go-ethereum/common"
)

const vectorKeyHex = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestParsePrivateKeyHex_Vector(t *testing.T) {
	key, err := ParsePrivateKeyHex(vectorKeyHex)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	want := common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23")
	if got := Address(key); got != want {
		t.Fatalf("expected %s, got %s", want.Hex(), got.Hex())
	}
	if EncodePrivateKeyHex(key) != vectorKeyHex[2:] {
		t.Fatal("encoded key does not match input")
	}
}

func TestParsePrivateKeyHex_Rejects(t *testing.T) {
	for _, value := range []string{"", "zz", "0x0102"} {
		if _, err := ParsePrivateKeyHex(value); err == nil {
			t.Fatalf("expected error for %q", value)
		}
	}
}

func TestFingerprint_Keccak(t *testing.T) {
	// keccak256("") is a well known constant.
	want := common.HexToHash("0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470")
	if got := Fingerprint(nil); got != want {
		t.Fatalf("expected %s, got %s", want.Hex(), got.Hex())
	}
	if Fingerprint([]byte("a")) == Fingerprint([]byte("b")) {
		t.Fatal("distinct credentials share a fingerprint")
	}
}

func TestSignRevocation_Verifies(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	fp := Fingerprint([]byte(`{"credential":"front-door"}`))
	sig, err := SignRevocation(key, fp)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !Verify(Address(key), fp.Bytes(), sig) {
		t.Fatal("signature did not verify against its own key")
	}
	other, _ := GenerateKey()
	if Verify(Address(other), fp.Bytes(), sig) {
		t.Fatal("signature verified against an unrelated key")
	}

	if _, err := SignRevocation(key, domain.Hash{}); !errors.Is(err, domain.ErrZeroFingerprint) {
		t.Fatalf("expected ErrZeroFingerprint, got %v", err)
	}
}

func TestSignBatch_PreservesOrder(t *testing.T) {
	key, _ := GenerateKey()
	fps := []domain.Hash{Fingerprint([]byte("1")), Fingerprint([]byte("2"))}
	sigs, err := SignBatch(key, fps)
	if err != nil {
		t.Fatalf("sign batch: %v", err)
	}
	if len(sigs) != 2 {
		t.Fatalf("expected 2 signatures, got %d", len(sigs))
	}
	for i, fp := range fps {
		if !Verify(Address(key), fp.Bytes(), sigs[i]) {
			t.Fatalf("signature %d does not match fingerprint %d", i, i)
		}
	}
}
