package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"accesscontrol/internal/domain"

	"github.com/ethereum/go-ethereum/common"
)

func (c *cli) writeJSON(v any) int {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(c.errOut, "encode output: %v\n", err)
		return 1
	}
	return 0
}

func (c *cli) fail(format string, args ...any) int {
	fmt.Fprintf(c.errOut, format+"\n", args...)
	return 1
}

// stringList collects a repeated flag.
type stringList []string

func (l *stringList) String() string {
	return strings.Join(*l, ",")
}

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func parseAddress(name, raw string) (domain.Address, error) {
	if !common.IsHexAddress(raw) {
		return domain.Address{}, fmt.Errorf("--%s must be a 20 byte hex address", name)
	}
	return common.HexToAddress(raw), nil
}

func parseDeviceID(raw string) (domain.DeviceID, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || v == 0 {
		return 0, errors.New("--device-id must be a positive integer")
	}
	return domain.DeviceID(v), nil
}

func decodeHex(raw string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X"))
}

func parseFingerprint(raw string) (domain.Hash, error) {
	b, err := decodeHex(raw)
	if err != nil || len(b) != common.HashLength {
		return domain.Hash{}, errors.New("--fingerprint must be 32 hex-encoded bytes")
	}
	return common.BytesToHash(b), nil
}
