// Package policy gates run requests through OPA. Policies are .rego
// files under a configured directory; the decision query is
// data.colloquy.run.decision and yields {allow, reason}.
package policy

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"

	"github.com/colloquyhq/colloquy/internal/metrics"
)

//go:embed default.rego
var defaultPolicy string

const decisionQuery = "data.colloquy.run.decision"

// Input is the evaluation context for one run request.
type Input struct {
	Topic       string  `json:"topic"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Environment string  `json:"environment"`
}

// Decision is the policy verdict for a run request.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
}

// Engine compiles rego policies and evaluates run requests against
// them.
type Engine struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.RWMutex
	prepared *rego.PreparedEvalQuery
}

// New creates a policy engine and compiles the configured policies.
// With fail_closed a load failure is fatal; otherwise the engine
// starts without policies and Evaluate allows everything.
func New(cfg Config, logger *zap.Logger) (*Engine, error) {
	cfg.Normalize()
	e := &Engine{
		cfg:    cfg,
		logger: logger.Named("policy"),
	}

	if !cfg.Enabled {
		return e, nil
	}

	if err := e.Reload(); err != nil {
		if cfg.FailClosed {
			return nil, fmt.Errorf("load policies: %w", err)
		}
		e.logger.Warn("Failed to load policies, running fail-open", zap.Error(err))
	}
	return e, nil
}

// Enabled reports whether compiled policies are being evaluated.
func (e *Engine) Enabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.Enabled && e.prepared != nil
}

// Mode returns the configured enforcement mode.
func (e *Engine) Mode() Mode { return e.cfg.Mode }

// Environment returns the environment passed to policies.
func (e *Engine) Environment() string { return e.cfg.Environment }

// Reload recompiles the policy directory and swaps the prepared
// query. On error the previously compiled policies stay active.
func (e *Engine) Reload() error {
	if !e.cfg.Enabled {
		return nil
	}

	modules, err := loadModules(e.cfg.Path)
	if err != nil {
		return err
	}
	if len(modules) == 0 {
		e.logger.Info("No policy files found, using built-in default",
			zap.String("path", e.cfg.Path))
		modules = map[string]string{"default": defaultPolicy}
	}

	opts := []func(*rego.Rego){rego.Query(decisionQuery)}
	for name, content := range modules {
		opts = append(opts, rego.Module(name, content))
	}

	prepared, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("compile policies: %w", err)
	}

	e.mu.Lock()
	e.prepared = &prepared
	e.mu.Unlock()

	e.logger.Info("Policies compiled",
		zap.Int("modules", len(modules)),
		zap.String("query", decisionQuery))
	return nil
}

// Evaluate runs the decision query for one run request. In dry-run
// mode denials are converted to allows with the original reason kept
// behind a DRY-RUN prefix.
func (e *Engine) Evaluate(ctx context.Context, input *Input) (*Decision, error) {
	e.mu.RLock()
	prepared := e.prepared
	e.mu.RUnlock()

	if !e.cfg.Enabled || prepared == nil {
		return &Decision{
			Allow:  !e.cfg.FailClosed,
			Reason: "policy engine disabled or no policies loaded",
		}, nil
	}

	inputMap, err := toMap(input)
	if err != nil {
		metrics.RecordPolicyDecision("error")
		if e.cfg.FailClosed {
			return &Decision{Allow: false, Reason: "input conversion failed"}, err
		}
		return &Decision{Allow: true, Reason: "input conversion failed (fail-open)"}, nil
	}

	results, err := prepared.Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		e.logger.Error("Policy evaluation failed", zap.Error(err))
		metrics.RecordPolicyDecision("error")
		if e.cfg.FailClosed {
			return &Decision{Allow: false, Reason: "policy evaluation error"}, err
		}
		return &Decision{Allow: true, Reason: "policy evaluation error (fail-open)"}, nil
	}

	decision := parseResults(results)

	if e.cfg.Mode == ModeDryRun && !decision.Allow {
		e.logger.Info("Dry-run policy denial",
			zap.String("reason", decision.Reason),
			zap.String("topic", input.Topic))
		decision = &Decision{
			Allow:  true,
			Reason: fmt.Sprintf("DRY-RUN: would have been denied - %s", decision.Reason),
		}
	}

	if decision.Allow {
		metrics.RecordPolicyDecision("allow")
	} else {
		metrics.RecordPolicyDecision("deny")
	}

	e.logger.Debug("Policy evaluated",
		zap.Bool("allow", decision.Allow),
		zap.String("reason", decision.Reason),
		zap.String("topic", input.Topic))

	return decision, nil
}

// loadModules reads every .rego file under dir keyed by its relative
// path. A missing directory is not an error; the caller falls back to
// the embedded default.
func loadModules(dir string) (map[string]string, error) {
	modules := make(map[string]string)
	if dir == "" {
		return modules, nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return modules, nil
	}

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".rego") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read policy file %s: %w", path, err)
		}
		rel, _ := filepath.Rel(dir, path)
		modules[strings.TrimSuffix(rel, ".rego")] = string(content)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk policy directory: %w", err)
	}
	return modules, nil
}

func parseResults(results rego.ResultSet) *Decision {
	decision := &Decision{Allow: false, Reason: "no matching policy rules"}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return decision
	}

	switch value := results[0].Expressions[0].Value.(type) {
	case map[string]interface{}:
		if allow, ok := value["allow"].(bool); ok {
			decision.Allow = allow
		}
		if reason, ok := value["reason"].(string); ok {
			decision.Reason = reason
		}
	case bool:
		// Policies may expose a bare boolean decision
		decision.Allow = value
		if value {
			decision.Reason = "allowed by policy"
		} else {
			decision.Reason = "denied by policy"
		}
	}
	return decision
}

func toMap(input *Input) (map[string]interface{}, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
