package policyopa

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"accesscontrol/internal/domain"
	"accesscontrol/internal/usecase"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
)

const defaultQuery = "data.accesscontrol.admin.result"

// DefaultModule grants administrative operations to the configured root
// admin only.
const DefaultModule = `package accesscontrol.admin

zero_address = "0x0000000000000000000000000000000000000000"

default result = {"allow": false, "reason": "caller is not the root admin"}

result = {"allow": true, "reason": ""} {
	lower(input.root_admin) != zero_address
	lower(input.caller) == lower(input.root_admin)
}
`

type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason"`
}

// Engine evaluates admin requests against a rego module. It satisfies
// usecase.AdminPolicy.
type Engine struct {
	query      rego.PreparedEvalQuery
	policyHash string
}

func NewEngine(ctx context.Context, module string) (*Engine, error) {
	if module == "" {
		module = DefaultModule
	}
	capabilities := ast.CapabilitiesForThisVersion()
	capabilities.Builtins = filterBuiltins(capabilities.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(capabilities)

	r := rego.New(
		rego.Query(defaultQuery),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
		rego.Module("admin.rego", module),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile admin policy: %w", err)
	}
	if err := assertNoForbiddenBuiltins(compiler); err != nil {
		return nil, err
	}
	sum := sha256.Sum256([]byte(module))
	return &Engine{
		query:      prepared,
		policyHash: hex.EncodeToString(sum[:]),
	}, nil
}

// NewEngineFromPath loads a single rego file. An empty path selects
// DefaultModule.
func NewEngineFromPath(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultModule)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read admin policy: %w", err)
	}
	return NewEngine(ctx, string(raw))
}

func (e *Engine) PolicyHash() string {
	return e.policyHash
}

func (e *Engine) Evaluate(ctx context.Context, req usecase.AdminRequest) (Decision, error) {
	if e == nil {
		return Decision{}, errors.New("policy engine is nil")
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(req))
	if err != nil {
		return Decision{}, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{}, errors.New("empty policy result")
	}
	return decodeDecision(results[0].Expressions[0].Value)
}

// Authorize fails closed: evaluation errors deny.
func (e *Engine) Authorize(ctx context.Context, req usecase.AdminRequest) error {
	decision, err := e.Evaluate(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: policy evaluation failed: %v", domain.ErrNotRootAdmin, err)
	}
	if !decision.Allow {
		if decision.Reason != "" {
			return fmt.Errorf("%w: %s", domain.ErrNotRootAdmin, decision.Reason)
		}
		return domain.ErrNotRootAdmin
	}
	return nil
}

func decodeDecision(value any) (Decision, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return Decision{}, err
	}
	var decision Decision
	if err := json.Unmarshal(payload, &decision); err != nil {
		return Decision{}, err
	}
	return decision, nil
}

var _ usecase.AdminPolicy = (*Engine)(nil)
