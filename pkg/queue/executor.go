package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/caseops/casepilot/pkg/audit"
	"github.com/caseops/casepilot/pkg/clarify"
	"github.com/caseops/casepilot/pkg/contextpack"
	"github.com/caseops/casepilot/pkg/metrics"
	"github.com/caseops/casepilot/pkg/models"
	"github.com/caseops/casepilot/pkg/overview"
	"github.com/caseops/casepilot/pkg/repository"
	"github.com/caseops/casepilot/pkg/slack"
	"github.com/caseops/casepilot/pkg/store"
	"github.com/caseops/casepilot/pkg/taxonomy"
	"github.com/caseops/casepilot/pkg/validator"
)

// CaseEventPayload is the case_event job body: a case landed or changed
// and needs the full intake run.
type CaseEventPayload struct {
	CaseSysID  string `json:"case_sys_id"`
	CaseNumber string `json:"case_number,omitempty"`
	Source     string `json:"source,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

// SlackEventPayload is the slack_event job body: a thread message that
// may answer an open clarification question.
type SlackEventPayload struct {
	ChannelID string `json:"channel_id"`
	ThreadTS  string `json:"thread_ts"`
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
	EventTS   string `json:"event_ts,omitempty"`
}

// SlashCommandPayload is the slash_command job body.
type SlashCommandPayload struct {
	Command   string `json:"command"`
	Text      string `json:"text"`
	ChannelID string `json:"channel_id,omitempty"`
	UserID    string `json:"user_id"`
	RequestID string `json:"request_id,omitempty"`
}

// InteractionPayload is the interaction job body for button clicks the
// intake handler did not settle inline.
type InteractionPayload struct {
	ActionID  string `json:"action_id"`
	Value     string `json:"value"`
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id,omitempty"`
	MessageTS string `json:"message_ts,omitempty"`
}

// ResumeCasePayload is the resume_case job body enqueued when a
// clarification session resolves.
type ResumeCasePayload struct {
	CaseSysID  string `json:"case_sys_id"`
	CaseNumber string `json:"case_number"`
	GateID     string `json:"gate_id"`
	SessionID  string `json:"session_id"`
}

// CancelSessionPayload is the cancel_session job body.
type CancelSessionPayload struct {
	CaseSysID string `json:"case_sys_id"`
	Actor     string `json:"actor"`
	Reason    string `json:"reason"`
}

// SupervisorNotePayload is the supervisor_note job body.
type SupervisorNotePayload struct {
	CaseSysID string `json:"case_sys_id"`
	Note      string `json:"note"`
	Actor     string `json:"actor"`
}

// ContextBuilder assembles the enrichment pack for a case.
// *contextpack.Builder satisfies it.
type ContextBuilder interface {
	Build(ctx context.Context, sources contextpack.Sources, caseSysID string) (*models.ContextPack, error)
}

// Classifier runs the staged classification pipeline.
// *pipeline.Pipeline satisfies it.
type Classifier interface {
	Run(ctx context.Context, pack *models.ContextPack) (*models.ClassificationResult, error)
}

// Evaluator turns a classification into a gate verdict.
// *validator.Engine satisfies it.
type Evaluator interface {
	Evaluate(result *models.ClassificationResult) *validator.Verdict
}

// GateWriter is the slice of the gate store the executor uses.
type GateWriter interface {
	Create(ctx context.Context, gate *models.QualityGate) error
	Get(ctx context.Context, id string) (*models.QualityGate, error)
	GetActiveByCase(ctx context.Context, caseSysID string) (*models.QualityGate, error)
}

// Clarifier is the slice of the clarification manager the executor
// drives. *clarify.Manager satisfies it.
type Clarifier interface {
	Open(ctx context.Context, in clarify.OpenInput) (*models.ClarificationSession, error)
	OpenSession(ctx context.Context, caseSysID string) (*models.ClarificationSession, error)
	HandleReply(ctx context.Context, in clarify.ReplyInput) (*clarify.ReplyOutcome, error)
	MarkResumed(ctx context.Context, sessionID string) (*models.ClarificationSession, error)
	CancelByCase(ctx context.Context, caseSysID, actor, reason string) (*models.ClarificationSession, error)
}

// Router decides and posts escalations. *escalation.Router satisfies
// it.
type Router interface {
	Route(ctx context.Context, c models.Case, result *models.ClassificationResult) (*models.Escalation, error)
	Acknowledge(ctx context.Context, id, userID string) (*models.Escalation, error)
}

// Notifier posts intake reviews to Slack. *slack.Service satisfies it.
type Notifier interface {
	PostCaseAssist(ctx context.Context, in slack.CaseAssistInput) (string, string)
}

// ExecutorDeps wires the case executor's collaborators. Clarify,
// Router, and Slack may be nil; a nil entry disables that step.
type ExecutorDeps struct {
	Packs     ContextBuilder
	Repo      repository.Repo
	Pipeline  Classifier
	Validator Evaluator
	Gates     GateWriter
	Clarify   Clarifier
	Router    Router
	Slack     Notifier
	Audit     audit.Recorder
	Metrics   *metrics.Metrics
}

// CaseExecutor dispatches claimed jobs to their handlers by kind. The
// case_event handler runs the whole intake chain: context pack,
// classification pipeline, validation, gate creation, overview
// artifact, Slack review, clarification or escalation.
//
// Handlers are written to be replay-safe. The one-open-gate-per-case
// index, the open-session check, and escalation dedup make a retried
// job converge on existing state instead of doubling side effects.
type CaseExecutor struct {
	packs     ContextBuilder
	repo      repository.Repo
	pipeline  Classifier
	validator Evaluator
	gates     GateWriter
	clarify   Clarifier
	router    Router
	slack     Notifier
	audit     audit.Recorder
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewCaseExecutor creates the job executor.
func NewCaseExecutor(deps ExecutorDeps) *CaseExecutor {
	return &CaseExecutor{
		packs:     deps.Packs,
		repo:      deps.Repo,
		pipeline:  deps.Pipeline,
		validator: deps.Validator,
		gates:     deps.Gates,
		clarify:   deps.Clarify,
		router:    deps.Router,
		slack:     deps.Slack,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		logger:    slog.Default().With("component", "executor"),
	}
}

// Execute routes one claimed job to its handler.
func (e *CaseExecutor) Execute(ctx context.Context, job *models.Job) error {
	switch job.Kind {
	case models.JobKindCaseEvent:
		return e.handleCaseEvent(ctx, job)
	case models.JobKindSlackEvent:
		return e.handleSlackEvent(ctx, job)
	case models.JobKindSlashCommand:
		return e.handleSlashCommand(ctx, job)
	case models.JobKindInteraction:
		return e.handleInteraction(ctx, job)
	case models.JobKindResumeCase:
		return e.handleResumeCase(ctx, job)
	case models.JobKindCancelSession:
		return e.handleCancelSession(ctx, job)
	case models.JobKindSupervisorNote:
		return e.handleSupervisorNote(ctx, job)
	default:
		return taxonomy.Validation(fmt.Errorf("%w: %s", ErrUnknownKind, job.Kind))
	}
}

// handleCaseEvent runs the intake chain for one case event.
func (e *CaseExecutor) handleCaseEvent(ctx context.Context, job *models.Job) error {
	var payload CaseEventPayload
	if err := decodePayload(job, &payload); err != nil {
		return err
	}
	caseSysID := payload.CaseSysID
	if caseSysID == "" {
		caseSysID = job.CaseSysID
	}
	if caseSysID == "" {
		return taxonomy.Validation(errors.New("case event requires a case sys_id"))
	}

	pack, err := e.packs.Build(ctx, e.repo, caseSysID)
	if err != nil {
		return fmt.Errorf("failed to build context pack: %w", err)
	}

	result, err := e.pipeline.Run(ctx, pack)
	if err != nil {
		if taxonomy.Is(err, taxonomy.KindParse) || taxonomy.Is(err, taxonomy.KindValidation) {
			// The model's output is unusable and a retry would replay
			// the same prompts. Block the gate for human review.
			return e.blockUnclassifiable(ctx, pack, job, err)
		}
		return fmt.Errorf("classification failed: %w", err)
	}

	verdict := e.validator.Evaluate(result)

	gate := &models.QualityGate{
		CaseSysID:       caseSysID,
		CaseNumber:      pack.Case.Number,
		AssignmentGroup: pack.Case.AssignmentGroup,
		Status:          verdict.Status,
		Blocked:         verdict.Status == models.GateStatusBlocked,
		RiskLevel:       verdict.RiskLevel,
		Decision:        *verdict.Decision(result),
	}
	created, err := e.createGate(ctx, gate, job)
	if err != nil {
		return err
	}
	if !created {
		// A previous attempt for this case already opened a review.
		existing, gerr := e.gates.GetActiveByCase(ctx, caseSysID)
		if gerr != nil {
			return fmt.Errorf("failed to load existing gate: %w", gerr)
		}
		gate = existing
		e.logger.Info("Reusing open gate from earlier attempt",
			"gate_id", gate.ID, "case_number", gate.CaseNumber, "status", gate.Status)
	}

	artifact := overview.Build(overview.Input{
		Case:       pack.Case,
		Result:     result,
		Business:   pack.Business,
		KBArticles: pack.KBArticles,
		Similar:    pack.SimilarCases,
		GateStatus: gate.Status,
		DecidedAt:  gate.CreatedAt,
	})

	var channelID, threadTS string
	if e.slack != nil {
		channelID, threadTS = e.slack.PostCaseAssist(ctx, slack.CaseAssistInput{
			CaseNumber:      gate.CaseNumber,
			GateStatus:      gate.Status,
			Artifact:        artifact,
			Warnings:        verdict.Warnings,
			Recommendations: verdict.Recommendations,
		})
	}

	if err := e.repo.AppendOverviewNote(ctx, caseSysID, artifact); err != nil {
		e.logger.Warn("Failed to append overview note",
			"case_sys_id", caseSysID, "error", err)
	}

	if gate.Status == models.GateStatusClarificationNeeds {
		if err := e.openClarification(ctx, gate, pack.Case, verdict, channelID, threadTS); err != nil {
			return err
		}
	}

	if e.router != nil {
		if _, err := e.router.Route(ctx, pack.Case, result); err != nil {
			if taxonomy.Retryable(err) {
				return fmt.Errorf("failed to route escalation: %w", err)
			}
			e.logger.Error("Escalation routing failed",
				"case_number", gate.CaseNumber, "error", err)
		}
	}

	return nil
}

// createGate inserts the gate, treating the one-open-gate-per-case
// index as a replay signal rather than a failure. Returns whether this
// call created the row.
func (e *CaseExecutor) createGate(ctx context.Context, gate *models.QualityGate, job *models.Job) (bool, error) {
	err := e.gates.Create(ctx, gate)
	if errors.Is(err, store.ErrAlreadyExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create gate: %w", err)
	}

	e.metrics.RecordGateOutcome(string(gate.Status))
	e.audit.Record(ctx, &models.AuditEntry{
		EntityType: models.AuditEntityGate,
		EntityID:   gate.ID,
		Action:     "gate_created",
		NewState:   string(gate.Status),
		Actor:      "system",
		Reason:     strings.Join(gate.Decision.Errors, "; "),
		Metadata: models.JSONMap{
			"case_sys_id": gate.CaseSysID,
			"case_number": gate.CaseNumber,
			"risk_level":  string(gate.RiskLevel),
			"job_id":      job.ID,
		},
	})
	return true, nil
}

// blockUnclassifiable records a BLOCKED gate when the pipeline cannot
// produce usable output, then lets the job complete.
func (e *CaseExecutor) blockUnclassifiable(ctx context.Context, pack *models.ContextPack, job *models.Job, cause error) error {
	gate := &models.QualityGate{
		CaseSysID:       pack.Case.SysID,
		CaseNumber:      pack.Case.Number,
		AssignmentGroup: pack.Case.AssignmentGroup,
		Status:          models.GateStatusBlocked,
		Blocked:         true,
		RiskLevel:       models.RiskHigh,
		ReviewReason:    fmt.Sprintf("classification output unusable: %v", cause),
		Decision:        models.GateDecision{Errors: []string{cause.Error()}},
	}
	created, err := e.createGate(ctx, gate, job)
	if err != nil {
		return err
	}
	if created && e.slack != nil {
		e.slack.PostCaseAssist(ctx, slack.CaseAssistInput{
			CaseNumber: gate.CaseNumber,
			GateStatus: gate.Status,
			Warnings:   []string{gate.ReviewReason},
		})
	}
	e.logger.Error("Case blocked: classification unusable",
		"case_number", gate.CaseNumber, "error", cause)
	return nil
}

// openClarification opens a session for the gate's questions unless an
// earlier attempt already did.
func (e *CaseExecutor) openClarification(ctx context.Context, gate *models.QualityGate, kase models.Case, verdict *validator.Verdict, channelID, threadTS string) error {
	if e.clarify == nil {
		return nil
	}
	if _, err := e.clarify.OpenSession(ctx, gate.CaseSysID); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to check open session: %w", err)
	}

	_, err := e.clarify.Open(ctx, clarify.OpenInput{
		Gate:      gate,
		Case:      kase,
		Questions: verdict.Questions,
		ChannelID: channelID,
		ThreadTS:  threadTS,
	})
	if err != nil {
		return fmt.Errorf("failed to open clarification session: %w", err)
	}
	return nil
}

// handleSlackEvent binds a thread reply to its clarification session.
// Replies on threads without a session are ignored.
func (e *CaseExecutor) handleSlackEvent(ctx context.Context, job *models.Job) error {
	var payload SlackEventPayload
	if err := decodePayload(job, &payload); err != nil {
		return err
	}
	if e.clarify == nil || payload.ThreadTS == "" || strings.TrimSpace(payload.Text) == "" {
		return nil
	}

	outcome, err := e.clarify.HandleReply(ctx, clarify.ReplyInput{
		ChannelID: payload.ChannelID,
		ThreadTS:  payload.ThreadTS,
		UserID:    payload.UserID,
		Text:      payload.Text,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to handle thread reply: %w", err)
	}

	if outcome.Resolution != nil {
		e.logger.Info("Clarification resolved by thread reply",
			"session_id", outcome.Session.ID,
			"question_id", outcome.QuestionID)
	}
	return nil
}

// handleSlashCommand settles queued slash commands. Only the cancel
// subcommand mutates state; everything else is audited and dropped.
func (e *CaseExecutor) handleSlashCommand(ctx context.Context, job *models.Job) error {
	var payload SlashCommandPayload
	if err := decodePayload(job, &payload); err != nil {
		return err
	}

	fields := strings.Fields(payload.Text)
	if len(fields) >= 2 && strings.EqualFold(fields[0], "cancel") {
		return e.cancelByNumber(ctx, fields[1], payload.UserID)
	}

	e.audit.Record(ctx, &models.AuditEntry{
		EntityType: models.AuditEntityIntake,
		EntityID:   payload.UserID,
		Action:     "slash_command_ignored",
		Actor:      payload.UserID,
		Metadata: models.JSONMap{
			"command": payload.Command,
			"text":    payload.Text,
		},
	})
	e.logger.Info("Slash command had no handler",
		"command", payload.Command, "text", payload.Text)
	return nil
}

// cancelByNumber resolves a case number to its sys_id and cancels any
// open clarification session for it.
func (e *CaseExecutor) cancelByNumber(ctx context.Context, caseNumber, userID string) error {
	kase, err := e.repo.GetCaseByNumber(ctx, caseNumber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || !taxonomy.Retryable(err) {
			e.logger.Warn("Cancel command for unknown case",
				"case_number", caseNumber, "user_id", userID, "error", err)
			return nil
		}
		return fmt.Errorf("failed to resolve case %s: %w", caseNumber, err)
	}

	if e.clarify == nil {
		return nil
	}
	_, err = e.clarify.CancelByCase(ctx, kase.SysID, userID, "cancelled via slash command")
	if errors.Is(err, store.ErrNotFound) {
		e.logger.Info("Cancel command found no open session",
			"case_number", caseNumber, "user_id", userID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to cancel session: %w", err)
	}
	return nil
}

// handleInteraction settles queued button clicks. Acknowledge buttons
// are normally handled inline by the intake handler; this path covers
// clicks that arrived while the inline path was unavailable.
func (e *CaseExecutor) handleInteraction(ctx context.Context, job *models.Job) error {
	var payload InteractionPayload
	if err := decodePayload(job, &payload); err != nil {
		return err
	}

	switch payload.ActionID {
	case slack.ActionEscalationAck:
		if e.router == nil {
			return nil
		}
		_, err := e.router.Acknowledge(ctx, payload.Value, payload.UserID)
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidTransition) {
			// Stale button: the escalation is gone or already settled.
			e.logger.Info("Acknowledge click had no effect",
				"escalation_id", payload.Value, "user_id", payload.UserID, "error", err)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to acknowledge escalation: %w", err)
		}
		return nil
	default:
		e.logger.Info("Interaction had no handler", "action_id", payload.ActionID)
		return nil
	}
}

// handleResumeCase finishes a resolved clarification: the session goes
// RESUMED and a refreshed review lands back in the case thread and the
// case journal.
func (e *CaseExecutor) handleResumeCase(ctx context.Context, job *models.Job) error {
	var payload ResumeCasePayload
	if err := decodePayload(job, &payload); err != nil {
		return err
	}
	if payload.SessionID == "" || payload.GateID == "" {
		return taxonomy.Validation(errors.New("resume requires session and gate ids"))
	}
	if e.clarify == nil {
		return nil
	}

	session, err := e.clarify.MarkResumed(ctx, payload.SessionID)
	if err != nil {
		return fmt.Errorf("failed to mark session resumed: %w", err)
	}

	gate, err := e.gates.Get(ctx, payload.GateID)
	if err != nil {
		return fmt.Errorf("failed to load gate for resume: %w", err)
	}

	kase, err := e.repo.GetCase(ctx, payload.CaseSysID)
	if err != nil {
		e.logger.Warn("Failed to refresh case for resume",
			"case_sys_id", payload.CaseSysID, "error", err)
		kase = &models.Case{SysID: payload.CaseSysID, Number: payload.CaseNumber}
	}

	artifact := overview.Build(overview.Input{
		Case:       *kase,
		Result:     gate.Decision.Classification,
		GateStatus: gate.Status,
		DecidedAt:  gate.UpdatedAt,
	})

	if err := e.repo.AppendOverviewNote(ctx, payload.CaseSysID, artifact); err != nil {
		e.logger.Warn("Failed to append resume overview note",
			"case_sys_id", payload.CaseSysID, "error", err)
	}
	if e.slack != nil {
		e.slack.PostCaseAssist(ctx, slack.CaseAssistInput{
			CaseNumber:      gate.CaseNumber,
			GateStatus:      gate.Status,
			Artifact:        artifact,
			Recommendations: gate.Decision.Recommendations,
			ThreadTS:        session.ThreadTS,
		})
	}

	e.audit.Record(ctx, &models.AuditEntry{
		EntityType: models.AuditEntityCase,
		EntityID:   payload.CaseSysID,
		Action:     "case_resumed",
		NewState:   string(gate.Status),
		Actor:      "system",
		Metadata: models.JSONMap{
			"case_number": gate.CaseNumber,
			"gate_id":     gate.ID,
			"session_id":  session.ID,
		},
	})
	e.logger.Info("Case resumed after clarification",
		"case_number", gate.CaseNumber, "gate_id", gate.ID, "session_id", session.ID)
	return nil
}

// handleCancelSession cancels the case's open session on behalf of the
// payload actor.
func (e *CaseExecutor) handleCancelSession(ctx context.Context, job *models.Job) error {
	var payload CancelSessionPayload
	if err := decodePayload(job, &payload); err != nil {
		return err
	}
	if payload.CaseSysID == "" {
		return taxonomy.Validation(errors.New("cancel requires a case sys_id"))
	}
	if e.clarify == nil {
		return nil
	}

	_, err := e.clarify.CancelByCase(ctx, payload.CaseSysID, payload.Actor, payload.Reason)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to cancel session: %w", err)
	}
	return nil
}

// handleSupervisorNote appends a supervisor's note to the case journal.
func (e *CaseExecutor) handleSupervisorNote(ctx context.Context, job *models.Job) error {
	var payload SupervisorNotePayload
	if err := decodePayload(job, &payload); err != nil {
		return err
	}
	if payload.CaseSysID == "" || strings.TrimSpace(payload.Note) == "" {
		return taxonomy.Validation(errors.New("supervisor note requires a case sys_id and text"))
	}

	note := fmt.Sprintf("[CasePilot] Supervisor note from %s:\n%s", payload.Actor, payload.Note)
	if err := e.repo.AppendWorkNote(ctx, payload.CaseSysID, note); err != nil {
		return fmt.Errorf("failed to append supervisor note: %w", err)
	}

	e.audit.Record(ctx, &models.AuditEntry{
		EntityType: models.AuditEntityCase,
		EntityID:   payload.CaseSysID,
		Action:     "supervisor_note_appended",
		Actor:      payload.Actor,
		Metadata:   models.JSONMap{"note_length": len(payload.Note)},
	})
	return nil
}

// decodePayload unmarshals the job body. Malformed payloads are dead on
// arrival rather than retried.
func decodePayload(job *models.Job, v any) error {
	if len(job.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(job.Payload, v); err != nil {
		return taxonomy.Validation(fmt.Errorf("failed to decode %s payload: %w", job.Kind, err))
	}
	return nil
}
