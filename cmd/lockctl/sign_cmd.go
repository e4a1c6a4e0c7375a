package main

import (
	"encoding/hex"

	"accesscontrol/pkg/devicesig"
)

func (c *cli) runFingerprint(args []string) int {
	fs := newFlagSet(c, "fingerprint")
	var credential string
	fs.StringVar(&credential, "credential", "", "credential text")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if credential == "" {
		return c.fail("--credential is required")
	}
	return c.writeJSON(map[string]any{"fingerprint": devicesig.Fingerprint([]byte(credential))})
}

// runSign produces the device signature a registry call expects. Credential
// and fingerprint inputs sign the raw 32 fingerprint bytes; --message signs
// arbitrary text such as a transfer proof.
func (c *cli) runSign(args []string) int {
	fs := newFlagSet(c, "sign")
	var deviceKey, credential, fingerprint, message string
	fs.StringVar(&deviceKey, "device-key", "", "device private key hex")
	fs.StringVar(&credential, "credential", "", "credential text to fingerprint and sign")
	fs.StringVar(&fingerprint, "fingerprint", "", "fingerprint hex to sign")
	fs.StringVar(&message, "message", "", "free-form message to sign")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := devicesig.ParsePrivateKeyHex(deviceKey)
	if err != nil {
		return c.fail("parse device key: %v", err)
	}
	if message != "" {
		if credential != "" || fingerprint != "" {
			return c.fail("--message cannot be combined with --credential or --fingerprint")
		}
		sig, err := devicesig.SignMessage(key, []byte(message))
		if err != nil {
			return c.fail("sign: %v", err)
		}
		return c.writeJSON(map[string]any{
			"signer":    devicesig.Address(key),
			"message":   message,
			"signature": "0x" + hex.EncodeToString(sig),
		})
	}
	fp, err := resolveFingerprint(credential, fingerprint)
	if err != nil {
		return c.fail("%v", err)
	}
	sig, err := devicesig.SignRevocation(key, fp)
	if err != nil {
		return c.fail("sign: %v", err)
	}
	return c.writeJSON(map[string]any{
		"signer":      devicesig.Address(key),
		"fingerprint": fp,
		"signature":   "0x" + hex.EncodeToString(sig),
	})
}

func (c *cli) runKeygen(args []string) int {
	fs := newFlagSet(c, "keygen")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := devicesig.GenerateKey()
	if err != nil {
		return c.fail("generate key: %v", err)
	}
	return c.writeJSON(map[string]any{
		"address":     devicesig.Address(key),
		"private_key": devicesig.EncodePrivateKeyHex(key),
	})
}
