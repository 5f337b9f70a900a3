package validate

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/open-policy-agent/opa/rego"
)

//go:embed policy/validate.rego
var defaultPolicy string

const (
	policyFile  = "validate.rego"
	policyQuery = "data.cartography.validate.deny"
)

// Policy evaluates the semantic validation rules. Each rule that matches
// contributes one denial message.
type Policy struct {
	mu    sync.RWMutex
	query *rego.PreparedEvalQuery
	src   string
}

// NewPolicy loads validate.rego from policyDir, falling back to the built-in
// rules when policyDir is empty or has no such file.
func NewPolicy(ctx context.Context, policyDir string) (*Policy, error) {
	p := &Policy{}
	if err := p.replace(ctx, policySource(policyDir)); err != nil {
		return nil, err
	}
	return p, nil
}

func policySource(policyDir string) string {
	if policyDir == "" {
		return defaultPolicy
	}
	data, err := os.ReadFile(filepath.Join(policyDir, policyFile))
	if err != nil {
		log.Warn("Policy file not found, using built-in default", "file", policyFile, "err", err)
		return defaultPolicy
	}
	return string(data)
}

// replace compiles src and swaps it in.
func (p *Policy) replace(ctx context.Context, src string) error {
	r := rego.New(
		rego.Query(policyQuery),
		rego.Module("validate.rego", src),
	)
	pq, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("validate: compile policy: %w", err)
	}
	p.mu.Lock()
	p.query = &pq
	p.src = src
	p.mu.Unlock()
	return nil
}

// source returns the active policy text.
func (p *Policy) source() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.src
}

// Deny returns the sorted denial messages for fields.
func (p *Policy) Deny(ctx context.Context, fields map[string]any) ([]string, error) {
	p.mu.RLock()
	q := *p.query
	p.mu.RUnlock()

	results, err := q.Eval(ctx, rego.EvalInput(map[string]any{"doc": fields}))
	if err != nil {
		return nil, fmt.Errorf("validate: policy eval: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, nil
	}
	raw, _ := results[0].Expressions[0].Value.([]interface{})
	msgs := make([]string, 0, len(raw))
	for _, m := range raw {
		if s, ok := m.(string); ok {
			msgs = append(msgs, s)
		}
	}
	sort.Strings(msgs)
	return msgs, nil
}
