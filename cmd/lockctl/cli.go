package main

import (
	"fmt"
	"io"
	"path/filepath"
)

type cli struct {
	out    io.Writer
	errOut io.Writer
	// openRegistry is replaced in tests.
	openRegistry func() (*registryHandle, error)
}

func run(args []string, stdout, stderr io.Writer) int {
	c := &cli{out: stdout, errOut: stderr, openRegistry: openPostgresRegistry}
	return c.run(args)
}

func (c *cli) run(args []string) int {
	if len(args) < 2 {
		c.usage(args)
		return 1
	}

	rest := args[2:]
	switch args[1] {
	case "register":
		return c.runRegister(rest)
	case "revoke":
		return c.runRevoke(rest)
	case "batch-revoke":
		return c.runBatchRevoke(rest)
	case "transfer":
		return c.runTransfer(rest)
	case "emergency-transfer":
		return c.runEmergencyTransfer(rest)
	case "pause":
		return c.runSetPaused(rest, true)
	case "unpause":
		return c.runSetPaused(rest, false)
	case "info":
		return c.runInfo(rest)
	case "is-revoked":
		return c.runIsRevoked(rest)
	case "total":
		return c.runTotal(rest)
	case "fingerprint":
		return c.runFingerprint(rest)
	case "sign":
		return c.runSign(rest)
	case "keygen":
		return c.runKeygen(rest)
	case "sync":
		return c.runSync(rest)
	}

	c.usage(args)
	return 1
}

func (c *cli) usage(args []string) {
	name := "lockctl"
	if len(args) > 0 && args[0] != "" {
		name = filepath.Base(args[0])
	}
	w := c.errOut
	fmt.Fprintf(w, "usage:\n")
	fmt.Fprintf(w, "  %s register --caller <addr> (--bound-key <addr>|--device-key <hex>)\n", name)
	fmt.Fprintf(w, "  %s revoke --caller <addr> --device-id <id> (--credential <text>|--fingerprint <hex>) (--device-key <hex>|--signature <hex>)\n", name)
	fmt.Fprintf(w, "  %s batch-revoke --caller <addr> --device-id <id> --device-key <hex> (--credential <text>|--fingerprint <hex>)...\n", name)
	fmt.Fprintf(w, "  %s transfer --caller <addr> --device-id <id> --new-owner <addr> [--device-key <hex> --proof-message <text>]\n", name)
	fmt.Fprintf(w, "  %s emergency-transfer --caller <addr> --device-id <id> --new-owner <addr>\n", name)
	fmt.Fprintf(w, "  %s pause|unpause --caller <addr>\n", name)
	fmt.Fprintf(w, "  %s info --device-id <id>\n", name)
	fmt.Fprintf(w, "  %s is-revoked --device-id <id> (--credential <text>|--fingerprint <hex>)\n", name)
	fmt.Fprintf(w, "  %s total\n", name)
	fmt.Fprintf(w, "  %s fingerprint --credential <text>\n", name)
	fmt.Fprintf(w, "  %s sign --device-key <hex> (--credential <text>|--fingerprint <hex>|--message <text>)\n", name)
	fmt.Fprintf(w, "  %s keygen\n", name)
	fmt.Fprintf(w, "  %s sync [--once] [--device-id <id>]\n", name)
}
