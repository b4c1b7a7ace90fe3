package policyopa

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"

	"bonsaipay/internal/domain"
)

const defaultQuery = "data.bonsaipay.policy.result"

//go:embed policy/*.rego
var defaultPolicy embed.FS

// Engine evaluates the action authorization policy. It is safe for
// concurrent use.
type Engine struct {
	query      rego.PreparedEvalQuery
	bundleHash string
}

// NewEngine loads the policy bundle at bundlePath, or the embedded default
// policy when bundlePath is empty.
func NewEngine(ctx context.Context, bundlePath string) (*Engine, error) {
	if strings.TrimSpace(bundlePath) == "" {
		return newDefaultEngine(ctx)
	}
	return NewEngineFromBundlePath(ctx, bundlePath)
}

func NewEngineFromBundlePath(ctx context.Context, bundlePath string) (*Engine, error) {
	bundleHash, err := ComputeBundleHashFromPath(bundlePath)
	if err != nil {
		return nil, err
	}
	return prepare(ctx, bundleHash, rego.Load([]string{bundlePath}, nil))
}

func newDefaultEngine(ctx context.Context) (*Engine, error) {
	bundleHash, err := ComputeBundleHashFromFS(defaultPolicy, "policy")
	if err != nil {
		return nil, err
	}
	entries, err := defaultPolicy.ReadDir("policy")
	if err != nil {
		return nil, err
	}
	opts := make([]func(*rego.Rego), 0, len(entries))
	for _, entry := range entries {
		src, err := defaultPolicy.ReadFile("policy/" + entry.Name())
		if err != nil {
			return nil, err
		}
		opts = append(opts, rego.Module(entry.Name(), string(src)))
	}
	return prepare(ctx, bundleHash, opts...)
}

func prepare(ctx context.Context, bundleHash string, sources ...func(*rego.Rego)) (*Engine, error) {
	capabilities := ast.CapabilitiesForThisVersion()
	capabilities.Builtins = filterBuiltins(capabilities.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(capabilities)

	opts := []func(*rego.Rego){
		rego.Query(defaultQuery),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
	}
	opts = append(opts, sources...)
	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare policy: %w", err)
	}
	if err := assertNoForbiddenBuiltins(compiler); err != nil {
		return nil, err
	}
	return &Engine{query: prepared, bundleHash: bundleHash}, nil
}

func (e *Engine) BundleHash() string {
	return e.bundleHash
}

func (e *Engine) Evaluate(ctx context.Context, input domain.PolicyInput) (domain.PolicyEvaluation, error) {
	if e == nil {
		return domain.PolicyEvaluation{}, errors.New("policy engine is nil")
	}
	if input.AllowedDomains == nil {
		input.AllowedDomains = []string{}
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return domain.PolicyEvaluation{}, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return domain.PolicyEvaluation{}, errors.New("empty policy result")
	}
	result, err := decodePolicyResult(results[0].Expressions[0].Value)
	if err != nil {
		return domain.PolicyEvaluation{}, err
	}
	normalizePolicyResult(&result)
	return domain.PolicyEvaluation{BundleHash: e.bundleHash, Result: result}, nil
}

func decodePolicyResult(value any) (domain.PolicyResult, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return domain.PolicyResult{}, err
	}
	var result domain.PolicyResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return domain.PolicyResult{}, err
	}
	return result, nil
}

func normalizePolicyResult(result *domain.PolicyResult) {
	if result == nil {
		return
	}
	if len(result.Deny) > 0 {
		result.Allow = false
	}
	sort.Slice(result.Deny, func(i, j int) bool {
		if result.Deny[i].Code == result.Deny[j].Code {
			return result.Deny[i].Message < result.Deny[j].Message
		}
		return result.Deny[i].Code < result.Deny[j].Code
	})
}

func assertNoForbiddenBuiltins(compiler *ast.Compiler) error {
	if compiler == nil {
		return errors.New("policy compiler is nil")
	}
	forbidden := make(map[string]struct{})
	for _, module := range compiler.Modules {
		ast.WalkTerms(module, func(term *ast.Term) bool {
			call, ok := term.Value.(ast.Call)
			if !ok || len(call) == 0 || call[0] == nil {
				return false
			}
			name := call[0].Value.String()
			if _, ok := ast.BuiltinMap[name]; !ok {
				return false
			}
			if _, ok := allowedBuiltins[name]; ok {
				return false
			}
			forbidden[name] = struct{}{}
			return false
		})
	}
	if len(forbidden) == 0 {
		return nil
	}
	names := make([]string, 0, len(forbidden))
	for name := range forbidden {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("forbidden builtins: %s", strings.Join(names, ", "))
}

var _ domain.PolicyEvaluator = (*Engine)(nil)
