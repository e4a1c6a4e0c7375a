package policyopa

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"accesscontrol/internal/domain"
	"accesscontrol/internal/usecase"

	"github.com/ethereum/go-ethereum/common"
)

var (
	root  = common.HexToAddress("0x00000000000000000000000000000000000000aA")
	other = common.HexToAddress("0x00000000000000000000000000000000000000bB")
)

func TestDefaultPolicy(t *testing.T) {
	engine, err := NewEngine(context.Background(), "")
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if engine.PolicyHash() == "" {
		t.Fatal("expected policy hash")
	}

	tests := []struct {
		name  string
		req   usecase.AdminRequest
		allow bool
	}{
		{name: "root admin pauses", req: usecase.AdminRequest{Operation: usecase.AdminOpPause, Caller: root, RootAdmin: root}, allow: true},
		{name: "root admin emergency transfer", req: usecase.AdminRequest{Operation: usecase.AdminOpEmergencyTransfer, Caller: root, RootAdmin: root, DeviceID: 4}, allow: true},
		{name: "other caller", req: usecase.AdminRequest{Operation: usecase.AdminOpPause, Caller: other, RootAdmin: root}},
		{name: "unset root admin", req: usecase.AdminRequest{Operation: usecase.AdminOpUnpause}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := engine.Authorize(context.Background(), tt.req)
			if tt.allow && err != nil {
				t.Fatalf("expected allow, got %v", err)
			}
			if !tt.allow && !errors.Is(err, domain.ErrNotRootAdmin) {
				t.Fatalf("expected ErrNotRootAdmin, got %v", err)
			}
		})
	}
}

func TestCustomPolicyFromPath(t *testing.T) {
	dir := t.TempDir()
	// Root admin may pause but never run emergency transfers.
	module := `package accesscontrol.admin

default result = {"allow": false, "reason": "denied"}

result = {"allow": true, "reason": ""} {
	input.operation != "emergency_transfer"
	lower(input.caller) == lower(input.root_admin)
}
`
	path := filepath.Join(dir, "admin.rego")
	if err := os.WriteFile(path, []byte(module), 0o644); err != nil {
		t.Fatalf("write rego: %v", err)
	}
	engine, err := NewEngineFromPath(context.Background(), path)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	if err := engine.Authorize(context.Background(), usecase.AdminRequest{Operation: usecase.AdminOpPause, Caller: root, RootAdmin: root}); err != nil {
		t.Fatalf("expected pause allowed, got %v", err)
	}
	decision, err := engine.Evaluate(context.Background(), usecase.AdminRequest{Operation: usecase.AdminOpEmergencyTransfer, Caller: root, RootAdmin: root})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Allow || decision.Reason != "denied" {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestEngineRejectsTimeBuiltin(t *testing.T) {
	rejectBuiltin(t, "time.now_ns() > 0")
}

func TestEngineRejectsHttpSend(t *testing.T) {
	rejectBuiltin(t, `http.send({"method": "get", "url": "https://example.com"})`)
}

func rejectBuiltin(t *testing.T, expr string) {
	t.Helper()
	module := `package accesscontrol.admin
result = {"allow": true, "reason": ""} {
  ` + expr + `
}`
	if _, err := NewEngine(context.Background(), module); err == nil {
		t.Fatalf("expected builtin to be rejected")
	}
}

func TestRegistryUsesEngine(t *testing.T) {
	engine, err := NewEngine(context.Background(), DefaultModule)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	var policy usecase.AdminPolicy = engine
	if err := policy.Authorize(context.Background(), usecase.AdminRequest{Operation: usecase.AdminOpPause, Caller: other, RootAdmin: root}); !errors.Is(err, domain.ErrNotRootAdmin) {
		t.Fatalf("expected ErrNotRootAdmin, got %v", err)
	}
}
