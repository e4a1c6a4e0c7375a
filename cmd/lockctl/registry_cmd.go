package main

import (
	"context"
	"errors"
	"flag"

	"accesscontrol/internal/config"
	"accesscontrol/internal/domain"
	"accesscontrol/internal/infra/crypto"
	"accesscontrol/internal/infra/db"
	"accesscontrol/internal/infra/policyopa"
	"accesscontrol/internal/usecase"
	"accesscontrol/pkg/devicesig"
)

type registryHandle struct {
	registry *usecase.Registry
	close    func() error
}

func openPostgresRegistry() (*registryHandle, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.PostgresDSN == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}
	store, err := db.NewStore(cfg)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	policy, err := policyopa.NewEngineFromPath(ctx, cfg.AdminPolicyPath)
	if err != nil {
		store.Close()
		return nil, err
	}
	registry := usecase.NewRegistry(db.NewLedger(store), &crypto.Service{}, cfg.RootAdmin())
	registry.Admin = policy
	registry.MaxRevoked = uint64(cfg.MaxRevoked)
	return &registryHandle{registry: registry, close: store.Close}, nil
}

// withRegistry opens the registry, runs fn and closes it.
func (c *cli) withRegistry(fn func(ctx context.Context, r *usecase.Registry) error) int {
	h, err := c.openRegistry()
	if err != nil {
		return c.fail("open registry: %v", err)
	}
	defer func() {
		if h.close != nil {
			_ = h.close()
		}
	}()
	if err := fn(context.Background(), h.registry); err != nil {
		return c.fail("%v", err)
	}
	return 0
}

func newFlagSet(c *cli, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.errOut)
	return fs
}

func resolveFingerprint(credential, fingerprint string) (domain.Hash, error) {
	switch {
	case credential != "" && fingerprint != "":
		return domain.Hash{}, errors.New("use only one of --credential or --fingerprint")
	case credential != "":
		return devicesig.Fingerprint([]byte(credential)), nil
	case fingerprint != "":
		return parseFingerprint(fingerprint)
	default:
		return domain.Hash{}, errors.New("--credential or --fingerprint is required")
	}
}

func (c *cli) runRegister(args []string) int {
	fs := newFlagSet(c, "register")
	var callerRaw, boundRaw, deviceKey string
	fs.StringVar(&callerRaw, "caller", "", "caller address (becomes owner)")
	fs.StringVar(&boundRaw, "bound-key", "", "device key address")
	fs.StringVar(&deviceKey, "device-key", "", "device private key hex (address derived)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	caller, err := parseAddress("caller", callerRaw)
	if err != nil {
		return c.fail("%v", err)
	}
	var bound domain.Address
	switch {
	case boundRaw != "" && deviceKey != "":
		return c.fail("use only one of --bound-key or --device-key")
	case boundRaw != "":
		if bound, err = parseAddress("bound-key", boundRaw); err != nil {
			return c.fail("%v", err)
		}
	case deviceKey != "":
		key, err := devicesig.ParsePrivateKeyHex(deviceKey)
		if err != nil {
			return c.fail("parse device key: %v", err)
		}
		bound = devicesig.Address(key)
	default:
		return c.fail("--bound-key or --device-key is required")
	}

	var id domain.DeviceID
	code := c.withRegistry(func(ctx context.Context, r *usecase.Registry) error {
		var err error
		id, err = r.Register(ctx, usecase.RegisterRequest{Caller: caller, BoundKey: bound})
		return err
	})
	if code != 0 {
		return code
	}
	return c.writeJSON(map[string]any{"device_id": id, "owner": caller, "bound_key": bound})
}

func (c *cli) runRevoke(args []string) int {
	fs := newFlagSet(c, "revoke")
	var callerRaw, idRaw, credential, fingerprint, deviceKey, signature string
	fs.StringVar(&callerRaw, "caller", "", "caller address (device owner)")
	fs.StringVar(&idRaw, "device-id", "", "device id")
	fs.StringVar(&credential, "credential", "", "credential text to fingerprint")
	fs.StringVar(&fingerprint, "fingerprint", "", "credential fingerprint hex")
	fs.StringVar(&deviceKey, "device-key", "", "device private key hex used to sign")
	fs.StringVar(&signature, "signature", "", "precomputed device signature hex")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	caller, err := parseAddress("caller", callerRaw)
	if err != nil {
		return c.fail("%v", err)
	}
	id, err := parseDeviceID(idRaw)
	if err != nil {
		return c.fail("%v", err)
	}
	fp, err := resolveFingerprint(credential, fingerprint)
	if err != nil {
		return c.fail("%v", err)
	}
	var sig []byte
	switch {
	case deviceKey != "" && signature != "":
		return c.fail("use only one of --device-key or --signature")
	case deviceKey != "":
		key, err := devicesig.ParsePrivateKeyHex(deviceKey)
		if err != nil {
			return c.fail("parse device key: %v", err)
		}
		if sig, err = devicesig.SignRevocation(key, fp); err != nil {
			return c.fail("sign: %v", err)
		}
	case signature != "":
		if sig, err = decodeHex(signature); err != nil {
			return c.fail("--signature must be hex")
		}
	default:
		return c.fail("--device-key or --signature is required")
	}

	code := c.withRegistry(func(ctx context.Context, r *usecase.Registry) error {
		return r.Revoke(ctx, usecase.RevokeRequest{Caller: caller, DeviceID: id, Fingerprint: fp, Signature: sig})
	})
	if code != 0 {
		return code
	}
	return c.writeJSON(map[string]any{"device_id": id, "fingerprint": fp, "revoked": true})
}

func (c *cli) runBatchRevoke(args []string) int {
	fs := newFlagSet(c, "batch-revoke")
	var callerRaw, idRaw, deviceKey string
	var credentials, fingerprints stringList
	fs.StringVar(&callerRaw, "caller", "", "caller address (device owner)")
	fs.StringVar(&idRaw, "device-id", "", "device id")
	fs.StringVar(&deviceKey, "device-key", "", "device private key hex used to sign")
	fs.Var(&credentials, "credential", "credential text to fingerprint (repeatable)")
	fs.Var(&fingerprints, "fingerprint", "credential fingerprint hex (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	caller, err := parseAddress("caller", callerRaw)
	if err != nil {
		return c.fail("%v", err)
	}
	id, err := parseDeviceID(idRaw)
	if err != nil {
		return c.fail("%v", err)
	}
	key, err := devicesig.ParsePrivateKeyHex(deviceKey)
	if err != nil {
		return c.fail("parse device key: %v", err)
	}
	fps := make([]domain.Hash, 0, len(credentials)+len(fingerprints))
	for _, cred := range credentials {
		fps = append(fps, devicesig.Fingerprint([]byte(cred)))
	}
	for _, raw := range fingerprints {
		fp, err := parseFingerprint(raw)
		if err != nil {
			return c.fail("%v", err)
		}
		fps = append(fps, fp)
	}
	if len(fps) == 0 {
		return c.fail("at least one --credential or --fingerprint is required")
	}
	sigs, err := devicesig.SignBatch(key, fps)
	if err != nil {
		return c.fail("sign: %v", err)
	}

	code := c.withRegistry(func(ctx context.Context, r *usecase.Registry) error {
		return r.BatchRevoke(ctx, usecase.BatchRevokeRequest{Caller: caller, DeviceID: id, Fingerprints: fps, Signatures: sigs})
	})
	if code != 0 {
		return code
	}
	return c.writeJSON(map[string]any{"device_id": id, "fingerprints": fps, "revoked": len(fps)})
}

func (c *cli) runTransfer(args []string) int {
	fs := newFlagSet(c, "transfer")
	var callerRaw, idRaw, newOwnerRaw, deviceKey, proofMessage string
	fs.StringVar(&callerRaw, "caller", "", "caller address (current owner)")
	fs.StringVar(&idRaw, "device-id", "", "device id")
	fs.StringVar(&newOwnerRaw, "new-owner", "", "new owner address")
	fs.StringVar(&deviceKey, "device-key", "", "device private key hex for the optional proof")
	fs.StringVar(&proofMessage, "proof-message", "", "message signed by the device as transfer proof")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	caller, err := parseAddress("caller", callerRaw)
	if err != nil {
		return c.fail("%v", err)
	}
	id, err := parseDeviceID(idRaw)
	if err != nil {
		return c.fail("%v", err)
	}
	newOwner, err := parseAddress("new-owner", newOwnerRaw)
	if err != nil {
		return c.fail("%v", err)
	}
	req := usecase.TransferRequest{Caller: caller, DeviceID: id, NewOwner: newOwner}
	if (deviceKey == "") != (proofMessage == "") {
		return c.fail("--device-key and --proof-message must be given together")
	}
	if deviceKey != "" {
		key, err := devicesig.ParsePrivateKeyHex(deviceKey)
		if err != nil {
			return c.fail("parse device key: %v", err)
		}
		sig, err := devicesig.SignMessage(key, []byte(proofMessage))
		if err != nil {
			return c.fail("sign: %v", err)
		}
		req.Proof = &usecase.DeviceProof{Message: []byte(proofMessage), Signature: sig}
	}

	code := c.withRegistry(func(ctx context.Context, r *usecase.Registry) error {
		return r.TransferOwnership(ctx, req)
	})
	if code != 0 {
		return code
	}
	return c.writeJSON(map[string]any{"device_id": id, "previous_owner": caller, "owner": newOwner})
}

func (c *cli) runEmergencyTransfer(args []string) int {
	fs := newFlagSet(c, "emergency-transfer")
	var callerRaw, idRaw, newOwnerRaw string
	fs.StringVar(&callerRaw, "caller", "", "caller address (root admin)")
	fs.StringVar(&idRaw, "device-id", "", "device id")
	fs.StringVar(&newOwnerRaw, "new-owner", "", "new owner address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	caller, err := parseAddress("caller", callerRaw)
	if err != nil {
		return c.fail("%v", err)
	}
	id, err := parseDeviceID(idRaw)
	if err != nil {
		return c.fail("%v", err)
	}
	newOwner, err := parseAddress("new-owner", newOwnerRaw)
	if err != nil {
		return c.fail("%v", err)
	}
	code := c.withRegistry(func(ctx context.Context, r *usecase.Registry) error {
		return r.EmergencyTransferOwnership(ctx, usecase.EmergencyTransferRequest{Caller: caller, DeviceID: id, NewOwner: newOwner})
	})
	if code != 0 {
		return code
	}
	return c.writeJSON(map[string]any{"device_id": id, "owner": newOwner, "emergency": true})
}

func (c *cli) runSetPaused(args []string, paused bool) int {
	name := "unpause"
	if paused {
		name = "pause"
	}
	fs := newFlagSet(c, name)
	var callerRaw string
	fs.StringVar(&callerRaw, "caller", "", "caller address (root admin)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	caller, err := parseAddress("caller", callerRaw)
	if err != nil {
		return c.fail("%v", err)
	}
	code := c.withRegistry(func(ctx context.Context, r *usecase.Registry) error {
		if paused {
			return r.Pause(ctx, caller)
		}
		return r.Unpause(ctx, caller)
	})
	if code != 0 {
		return code
	}
	return c.writeJSON(map[string]any{"paused": paused})
}

func (c *cli) runInfo(args []string) int {
	fs := newFlagSet(c, "info")
	var idRaw string
	fs.StringVar(&idRaw, "device-id", "", "device id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	id, err := parseDeviceID(idRaw)
	if err != nil {
		return c.fail("%v", err)
	}
	var info domain.DeviceInfo
	code := c.withRegistry(func(ctx context.Context, r *usecase.Registry) error {
		var err error
		info, err = r.GetDeviceInfo(ctx, id)
		return err
	})
	if code != 0 {
		return code
	}
	return c.writeJSON(struct {
		DeviceID domain.DeviceID `json:"device_id"`
		domain.DeviceInfo
	}{id, info})
}

func (c *cli) runIsRevoked(args []string) int {
	fs := newFlagSet(c, "is-revoked")
	var idRaw, credential, fingerprint string
	fs.StringVar(&idRaw, "device-id", "", "device id")
	fs.StringVar(&credential, "credential", "", "credential text to fingerprint")
	fs.StringVar(&fingerprint, "fingerprint", "", "credential fingerprint hex")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	id, err := parseDeviceID(idRaw)
	if err != nil {
		return c.fail("%v", err)
	}
	fp, err := resolveFingerprint(credential, fingerprint)
	if err != nil {
		return c.fail("%v", err)
	}
	var revoked bool
	code := c.withRegistry(func(ctx context.Context, r *usecase.Registry) error {
		var err error
		revoked, err = r.IsRevoked(ctx, id, fp)
		return err
	})
	if code != 0 {
		return code
	}
	return c.writeJSON(map[string]any{"device_id": id, "fingerprint": fp, "revoked": revoked})
}

func (c *cli) runTotal(args []string) int {
	fs := newFlagSet(c, "total")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	var total uint64
	var paused bool
	code := c.withRegistry(func(ctx context.Context, r *usecase.Registry) error {
		var err error
		if total, err = r.TotalDevices(ctx); err != nil {
			return err
		}
		paused, err = r.Paused(ctx)
		return err
	})
	if code != 0 {
		return code
	}
	return c.writeJSON(map[string]any{"total_devices": total, "paused": paused})
}
