// Package pipeline runs the three-stage classification pipeline:
// categorization, narrative, business intelligence. Stages run strictly
// in order, share one rendered context prompt, and each later stage sees
// the validated output of the stages before it.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/caseops/casepilot/pkg/audit"
	"github.com/caseops/casepilot/pkg/config"
	"github.com/caseops/casepilot/pkg/contextpack"
	"github.com/caseops/casepilot/pkg/llm"
	"github.com/caseops/casepilot/pkg/metrics"
	"github.com/caseops/casepilot/pkg/models"
	"github.com/caseops/casepilot/pkg/taxonomy"
)

// Stage names, used in metrics labels, audit entries, and usage records.
const (
	StageCategorization = "categorization"
	StageNarrative      = "narrative"
	StageBusinessIntel  = "business_intelligence"
)

const (
	temperatureDeterministic = 0
	temperatureNarrative     = 0.2
)

var (
	// ErrStageParse marks a stage whose output could not be parsed into
	// its schema even after the JSON-only retry. The gate treats this as
	// a hard block at high risk.
	ErrStageParse = errors.New("stage parse error")

	// ErrPipelineTimeout marks a run that hit the whole-pipeline
	// deadline. Queue workers retry these.
	ErrPipelineTimeout = errors.New("pipeline timeout")
)

// structValidator checks the `validate` tags on stage output structs.
var structValidator = validator.New()

// Pipeline orchestrates the classification stages for one case.
type Pipeline struct {
	llm     llm.Client
	cfg     *config.LLMConfig
	audit   audit.Recorder
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a pipeline over the given completion client. A nil cfg
// falls back to defaults.
func New(client llm.Client, cfg *config.LLMConfig, recorder audit.Recorder, m *metrics.Metrics) *Pipeline {
	if cfg == nil {
		cfg = config.DefaultLLMConfig()
	}
	return &Pipeline{
		llm:     client,
		cfg:     cfg,
		audit:   recorder,
		metrics: m,
		logger:  slog.Default().With("component", "pipeline"),
	}
}

// Run executes all three stages for the given context pack and returns
// the assembled classification. The whole run is bounded by the
// configured pipeline deadline; individual stages are additionally
// bounded by the stage timeout.
func (p *Pipeline) Run(ctx context.Context, pack *models.ContextPack) (*models.ClassificationResult, error) {
	if pack == nil || pack.Case.SysID == "" {
		return nil, taxonomy.Validation(errors.New("pipeline requires a context pack with a case"))
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.PipelineTimeout.Duration())
	defer cancel()

	contextPrompt := contextpack.Render(pack)
	caseSysID := pack.Case.SysID
	started := time.Now()

	cat, catUsage, err := runStage(ctx, p, caseSysID, StageCategorization, llm.Request{
		System:      categorizationSystem,
		Messages:    categorizationMessages(contextPrompt),
		Temperature: temperatureDeterministic,
	}, normalizeCategorization)
	if err != nil {
		return nil, p.stageError(ctx, StageCategorization, err)
	}

	narr, narrUsage, err := runStage(ctx, p, caseSysID, StageNarrative, llm.Request{
		System:      narrativeSystem,
		Messages:    narrativeMessages(contextPrompt, cat),
		Temperature: temperatureNarrative,
	}, normalizeNarrative)
	if err != nil {
		return nil, p.stageError(ctx, StageNarrative, err)
	}

	bi, biUsage, err := runStage(ctx, p, caseSysID, StageBusinessIntel, llm.Request{
		System:      businessIntelSystem,
		Messages:    businessIntelMessages(contextPrompt, cat, narr),
		Temperature: temperatureDeterministic,
	}, normalizeBusinessIntel)
	if err != nil {
		return nil, p.stageError(ctx, StageBusinessIntel, err)
	}

	result := &models.ClassificationResult{
		CaseSysID:      caseSysID,
		CaseNumber:     pack.Case.Number,
		Categorization: *cat,
		Narrative:      *narr,
		BusinessIntel:  *bi,
		Usage:          []models.StageUsage{catUsage, narrUsage, biUsage},
		CompletedAt:    time.Now().UTC(),
	}

	p.logger.Info("Pipeline completed",
		"case_number", result.CaseNumber,
		"category", cat.Category,
		"urgency", cat.Urgency,
		"record_type", cat.RecordType.Type,
		"tone", narr.Tone,
		"bi_flags", len(bi.SetFlags()),
		"duration", time.Since(started))

	return result, nil
}

// stageError distinguishes a run that ran out of the pipeline deadline
// from a stage that failed on its own.
func (p *Pipeline) stageError(ctx context.Context, stage string, err error) error {
	if ctx.Err() != nil {
		return taxonomy.Timeout(fmt.Errorf("%w: %s stage interrupted: %v", ErrPipelineTimeout, stage, err))
	}
	return fmt.Errorf("%s stage failed: %w", stage, err)
}

// runStage drives one stage: complete, extract, unmarshal, normalize,
// validate. A parse failure earns exactly one retry that replays the
// model's reply and demands bare JSON. Token usage accumulates across
// both attempts.
func runStage[T any](ctx context.Context, p *Pipeline, caseSysID, stage string, req llm.Request, normalize func(*T) error) (*T, models.StageUsage, error) {
	start := time.Now()
	usage := models.StageUsage{Stage: stage, Model: p.cfg.Model}

	fail := func(err error) (*T, models.StageUsage, error) {
		usage.Duration = time.Since(start)
		p.recordFailure(ctx, caseSysID, stage, usage, err)
		return nil, usage, err
	}

	resp, err := p.complete(ctx, req)
	if err != nil {
		return fail(err)
	}
	usage.Model = resp.Model
	usage.InputTokens += int64(resp.Usage.InputTokens)
	usage.OutputTokens += int64(resp.Usage.OutputTokens)

	out, parseErr := parseInto(resp.Content, normalize)
	if parseErr != nil {
		p.logger.Warn("Stage output failed to parse, retrying with JSON-only reminder",
			"stage", stage,
			"case_sys_id", caseSysID,
			"error", parseErr)

		usage.Retried = true
		req.Messages = append(req.Messages,
			llm.Message{Role: llm.RoleAssistant, Content: resp.Content},
			llm.Message{Role: llm.RoleUser, Content: jsonOnlyReminder},
		)

		resp, err = p.complete(ctx, req)
		if err != nil {
			return fail(err)
		}
		usage.InputTokens += int64(resp.Usage.InputTokens)
		usage.OutputTokens += int64(resp.Usage.OutputTokens)

		out, parseErr = parseInto(resp.Content, normalize)
		if parseErr != nil {
			return fail(taxonomy.Parse(fmt.Errorf("%w: %s: %v", ErrStageParse, stage, parseErr)))
		}
	}

	usage.Duration = time.Since(start)
	p.metrics.ObserveStage(stage, usage.Duration, int(usage.InputTokens), int(usage.OutputTokens))
	p.audit.Record(ctx, &models.AuditEntry{
		EntityType: models.AuditEntityCase,
		EntityID:   caseSysID,
		Action:     "pipeline_stage",
		Actor:      "system",
		Metadata: models.JSONMap{
			"stage":         stage,
			"model":         usage.Model,
			"input_tokens":  usage.InputTokens,
			"output_tokens": usage.OutputTokens,
			"duration_ms":   usage.Duration.Milliseconds(),
			"retried":       usage.Retried,
		},
	})
	return out, usage, nil
}

// complete bounds one stage attempt with the stage timeout. The pipeline
// deadline still wins when it is nearer.
func (p *Pipeline) complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	stageCtx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout.Duration())
	defer cancel()
	return p.llm.Complete(stageCtx, req)
}

func (p *Pipeline) recordFailure(ctx context.Context, caseSysID, stage string, usage models.StageUsage, err error) {
	p.metrics.RecordStageFailure(stage, string(taxonomy.KindOf(err)))
	p.audit.Record(ctx, &models.AuditEntry{
		EntityType: models.AuditEntityCase,
		EntityID:   caseSysID,
		Action:     "pipeline_stage_failed",
		Reason:     err.Error(),
		Actor:      "system",
		Metadata: models.JSONMap{
			"stage":         stage,
			"model":         usage.Model,
			"input_tokens":  usage.InputTokens,
			"output_tokens": usage.OutputTokens,
			"retried":       usage.Retried,
		},
	})
	p.logger.Error("Pipeline stage failed",
		"stage", stage,
		"case_sys_id", caseSysID,
		"kind", taxonomy.KindOf(err),
		"error", err)
}

// parseInto extracts the JSON object from a completion and decodes it
// into the stage's typed result. Normalization runs before schema
// validation so clamped values pass their range tags.
func parseInto[T any](content string, normalize func(*T) error) (*T, error) {
	raw := llm.ExtractJSON(content)
	if raw == "" {
		return nil, errors.New("completion contains no JSON object")
	}
	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stage output: %w", err)
	}
	if normalize != nil {
		if err := normalize(&out); err != nil {
			return nil, err
		}
	}
	if err := structValidator.Struct(&out); err != nil {
		return nil, fmt.Errorf("stage output failed schema check: %w", err)
	}
	return &out, nil
}

func normalizeCategorization(cat *models.CategorizationResult) error {
	cat.ClampConfidence()
	if !cat.Urgency.IsValid() {
		return fmt.Errorf("unknown urgency %q", cat.Urgency)
	}
	if !cat.RecordType.Type.IsValid() {
		return fmt.Errorf("unknown record type %q", cat.RecordType.Type)
	}
	return nil
}

func normalizeNarrative(narr *models.NarrativeResult) error {
	narr.Tone = models.Tone(strings.ToLower(strings.TrimSpace(string(narr.Tone))))
	if narr.Tone != "" && !narr.Tone.IsValid() {
		return fmt.Errorf("unknown tone %q", narr.Tone)
	}
	steps := narr.ImmediateNextSteps[:0]
	for _, s := range narr.ImmediateNextSteps {
		if s = strings.TrimSpace(s); s != "" {
			steps = append(steps, s)
		}
	}
	narr.ImmediateNextSteps = steps
	return nil
}

func normalizeBusinessIntel(bi *models.BusinessIntelligence) error {
	bi.Normalize()
	return nil
}
