// Package pipeline runs the three round research loop: a researcher
// round that surveys the topic, then analyst and synthesizer rounds
// that build on stored context under a topic narrowed between rounds.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/colloquyhq/colloquy/internal/agents"
	"github.com/colloquyhq/colloquy/internal/audit"
	"github.com/colloquyhq/colloquy/internal/knowledge"
	"github.com/colloquyhq/colloquy/internal/metrics"
	"github.com/colloquyhq/colloquy/internal/prompts"
	"github.com/colloquyhq/colloquy/internal/response"
	"github.com/colloquyhq/colloquy/internal/roles"
	"github.com/colloquyhq/colloquy/internal/summarize"
	"github.com/colloquyhq/colloquy/internal/textnorm"
	"github.com/colloquyhq/colloquy/internal/util"
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// RunInput is one research request.
type RunInput struct {
	Topic       string  `json:"topic"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Result is the aggregated outcome of a run. Success results carry
// the findings and questions of all rounds in round order; error
// results carry only a message.
type Result struct {
	Status    string             `json:"status"`
	Findings  []response.Finding `json:"findings"`
	Questions []string           `json:"questions"`
	Metadata  map[string]any     `json:"metadata,omitempty"`
	Message   string             `json:"message,omitempty"`
}

// Auditor persists round and run records. The orchestrator treats a
// round save failure like a parse failure: the round is recorded as
// empty and the run continues.
type Auditor interface {
	SaveRound(ctx context.Context, rec audit.RoundRecord) error
	SaveResult(ctx context.Context, rec audit.RunRecord) error
}

// Deps wires an Orchestrator. Agents, Store and Summarizer are
// required; Roles defaults to the built-in sequence, Retriever is
// built over Store when absent, and Auditor may stay nil to disable
// audit persistence.
type Deps struct {
	Roles      []roles.Spec
	Agents     agents.Invoker
	Store      knowledge.Store
	Retriever  *knowledge.Retriever
	Summarizer *summarize.Summarizer
	Auditor    Auditor
	Logger     *zap.Logger
}

// Orchestrator executes research runs.
type Orchestrator struct {
	roles      []roles.Spec
	agents     agents.Invoker
	store      knowledge.Store
	retriever  *knowledge.Retriever
	summarizer *summarize.Summarizer
	auditor    Auditor
	log        *zap.Logger
}

// New validates deps and builds an Orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Agents == nil {
		return nil, errors.New("pipeline: agent invoker is required")
	}
	if deps.Store == nil {
		return nil, errors.New("pipeline: knowledge store is required")
	}
	if deps.Summarizer == nil {
		return nil, errors.New("pipeline: summarizer is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if len(deps.Roles) == 0 {
		deps.Roles = roles.Builtin()
	}
	if err := roles.Validate(deps.Roles); err != nil {
		return nil, err
	}
	if deps.Retriever == nil {
		deps.Retriever = knowledge.NewRetriever(deps.Store, deps.Logger)
	}

	return &Orchestrator{
		roles:      deps.Roles,
		agents:     deps.Agents,
		store:      deps.Store,
		retriever:  deps.Retriever,
		summarizer: deps.Summarizer,
		auditor:    deps.Auditor,
		log:        deps.Logger.Named("pipeline"),
	}, nil
}

// Run executes one full research run. It never panics outward and
// never returns a Go error: every failure becomes an error result.
func (o *Orchestrator) Run(ctx context.Context, input RunInput) (result Result) {
	start := time.Now()
	runID := uuid.New().String()
	log := o.log.With(zap.String("run_id", runID))
	metrics.RunsStarted.Inc()

	defer func() {
		if r := recover(); r != nil {
			log.Error("Run panicked", zap.Any("panic", r), zap.Stack("stacktrace"))
			result = Result{Status: StatusError, Message: fmt.Sprintf("panic: %v", r)}
		}
		metrics.RecordRunCompleted(result.Status, time.Since(start).Seconds())
		o.saveResult(runID, result)
	}()

	log.Info("Run started", zap.String("topic", util.TruncateString(input.Topic, 120)))

	res, err := o.execute(ctx, log, runID, input)
	if err != nil {
		log.Error("Run failed", zap.Error(err))
		return Result{Status: StatusError, Message: err.Error()}
	}

	log.Info("Run completed",
		zap.Int("findings", len(res.Findings)),
		zap.Int("questions", len(res.Questions)),
		zap.Duration("took", time.Since(start)),
	)
	return res
}

func (o *Orchestrator) execute(ctx context.Context, log *zap.Logger, runID string, input RunInput) (Result, error) {
	currentTopic := textnorm.Normalize(input.Topic)
	narrowedTopic := currentTopic

	var (
		allFindings  []response.Finding
		allQuestions []string
	)

	for i, role := range o.roles {
		round := i + 1

		var prompt string
		reqCtx := agents.RunContext{
			PreviousQuestions: []string{},
			RelevantFindings:  []response.Finding{},
		}
		if round == 1 {
			prompt = prompts.Research(currentTopic)
		} else {
			bundle, err := o.retriever.GetContext(ctx, narrowedTopic, runID)
			if err != nil {
				return Result{}, fmt.Errorf("retrieve context for round %d: %w", round, err)
			}
			prompt = prompts.Agent(role, narrowedTopic, bundle)
			reqCtx.PreviousQuestions = bundle.PreviousQuestions
			reqCtx.RelevantFindings = bundle.RelevantFindings
		}
		reqCtx.FormattedContent = textnorm.Normalize(prompt)

		roundStart := time.Now()
		invoked, err := o.agents.Invoke(ctx, role.Name, agents.RunRequest{
			Topic:       currentTopic,
			Round:       round,
			Context:     reqCtx,
			Temperature: input.Temperature,
			MaxTokens:   input.MaxTokens,
		})
		if err != nil {
			metrics.RecordRound(role.Name, "error", time.Since(roundStart).Seconds())
			return Result{}, fmt.Errorf("invoke %s (round %d): %w", role.Name, round, err)
		}

		rec, procErr := o.processRound(ctx, runID, round, role, prompt, invoked)
		if procErr != nil {
			log.Error("Round processing failed",
				zap.Int("round", round),
				zap.String("role", role.Name),
				zap.Error(procErr),
			)
			rec = response.Record{
				Findings:  []response.Finding{},
				Questions: []string{},
				Metadata:  map[string]any{"error": procErr.Error()},
			}
		}

		entry := knowledge.Entry{
			RunID:     runID,
			Round:     round,
			Topic:     currentTopic,
			Findings:  rec.Findings,
			Questions: rec.Questions,
			Metadata: map[string]any{
				"round": round,
				"topic": currentTopic,
				"type":  role.Tag,
			},
		}
		if err := o.store.Write(ctx, entry); err != nil {
			metrics.RecordRound(role.Name, "error", time.Since(roundStart).Seconds())
			return Result{}, fmt.Errorf("store round %d entry: %w", round, err)
		}

		allFindings = append(allFindings, rec.Findings...)
		allQuestions = append(allQuestions, rec.Questions...)

		// The first narrowing always runs, even when the researcher
		// round produced nothing. Later rounds re-narrow only after a
		// cleanly processed round.
		if round == 1 || procErr == nil {
			narrowedTopic = o.summarizer.Narrow(ctx, rec.Questions, currentTopic)
		}

		outcome := "ok"
		if procErr != nil {
			outcome = "error"
		}
		metrics.RecordRound(role.Name, outcome, time.Since(roundStart).Seconds())

		log.Info("Round completed",
			zap.Int("round", round),
			zap.String("role", role.Name),
			zap.Int("findings", len(rec.Findings)),
			zap.Int("questions", len(rec.Questions)),
		)
	}

	if allFindings == nil {
		allFindings = []response.Finding{}
	}
	if allQuestions == nil {
		allQuestions = []string{}
	}

	return Result{
		Status:    StatusSuccess,
		Findings:  allFindings,
		Questions: allQuestions,
		Metadata: map[string]any{
			"run_id":      runID,
			"num_rounds":  len(o.roles),
			"final_topic": currentTopic,
		},
	}, nil
}

// processRound parses the invocation's last result and records the
// round for audit. Both steps can fail without failing the run.
func (o *Orchestrator) processRound(ctx context.Context, runID string, round int, role roles.Spec, prompt string, invoked agents.RunResult) (response.Record, error) {
	last := invoked.Last()
	if last == nil {
		return response.Record{}, errors.New("agent returned no results")
	}
	rec := response.Parse(last)

	if o.auditor != nil {
		err := o.auditor.SaveRound(ctx, audit.RoundRecord{
			RunID:       runID,
			Round:       round,
			Role:        role.Name,
			Prompt:      prompt,
			RawResponse: last,
			Findings:    rec.Findings,
			Questions:   rec.Questions,
			Metadata:    rec.Metadata,
		})
		if err != nil {
			return response.Record{}, fmt.Errorf("save round record: %w", err)
		}
	}
	return rec, nil
}

func (o *Orchestrator) saveResult(runID string, res Result) {
	if o.auditor == nil {
		return
	}
	// Result rows must land even when the request context is gone.
	err := o.auditor.SaveResult(context.Background(), audit.RunRecord{
		RunID:     runID,
		Status:    res.Status,
		Findings:  res.Findings,
		Questions: res.Questions,
		Metadata:  res.Metadata,
		Message:   res.Message,
	})
	if err != nil {
		o.log.Warn("Failed to save run result",
			zap.String("run_id", runID),
			zap.Error(err),
		)
	}
}
