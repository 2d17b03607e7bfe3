// Package clarify drives the clarification-session lifecycle: opening
// the validator's questions in a Slack thread, binding replies to
// questions, re-validating with the answers, reminders, and expiry.
package clarify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caseops/casepilot/pkg/audit"
	"github.com/caseops/casepilot/pkg/config"
	"github.com/caseops/casepilot/pkg/metrics"
	"github.com/caseops/casepilot/pkg/models"
	"github.com/caseops/casepilot/pkg/store"
	"github.com/caseops/casepilot/pkg/taxonomy"
	"github.com/caseops/casepilot/pkg/validator"
)

// Sessions is the slice of the session store the manager needs.
type Sessions interface {
	Create(ctx context.Context, session *models.ClarificationSession) error
	Get(ctx context.Context, id string) (*models.ClarificationSession, error)
	GetOpenByCase(ctx context.Context, caseSysID string) (*models.ClarificationSession, error)
	FindByThread(ctx context.Context, channelID, threadTS string) (*models.ClarificationSession, error)
	Transition(ctx context.Context, session *models.ClarificationSession, next models.SessionStatus) error
	SaveResponses(ctx context.Context, session *models.ClarificationSession) error
	SetThread(ctx context.Context, session *models.ClarificationSession, channelID, threadTS string) error
	IncrementReminders(ctx context.Context, session *models.ClarificationSession) error
	ListExpired(ctx context.Context, now time.Time) ([]*models.ClarificationSession, error)
	ListActive(ctx context.Context) ([]*models.ClarificationSession, error)
}

// Gates is the slice of the gate store the manager needs.
type Gates interface {
	Get(ctx context.Context, id string) (*models.QualityGate, error)
	Transition(ctx context.Context, gate *models.QualityGate, next models.GateStatus, params store.TransitionParams) error
}

// Clients resolves per-client reminder and TTL settings. Missing rows
// fall back to the config defaults.
type Clients interface {
	Get(ctx context.Context, clientID string) (*models.ClientSettings, error)
}

// CaseReader resolves the case's company so the sweeps can apply
// per-client settings.
type CaseReader interface {
	GetCase(ctx context.Context, sysID string) (*models.Case, error)
}

// Notifier posts session messages. *slack.Service satisfies it.
type Notifier interface {
	PostClarificationQuestions(ctx context.Context, session *models.ClarificationSession) (string, string)
	PostReminder(ctx context.Context, session *models.ClarificationSession) bool
	PostExpiryNotice(ctx context.Context, session *models.ClarificationSession)
}

// WorkNoter appends journal entries to the ServiceNow case.
type WorkNoter interface {
	AppendWorkNote(ctx context.Context, sysID, note string) error
}

// Jobs enqueues the resume job once a session resolves.
type Jobs interface {
	Enqueue(ctx context.Context, job *models.Job) error
}

// Reevaluator re-runs validation with the collected responses.
// *validator.Engine satisfies it.
type Reevaluator interface {
	Reevaluate(result *models.ClassificationResult, responses models.Responses) *validator.Verdict
}

// Deps wires the manager's collaborators. Clients, Cases, Notifier,
// Notes, and Jobs are optional; a nil entry disables that side effect.
type Deps struct {
	Sessions  Sessions
	Gates     Gates
	Clients   Clients
	Cases     CaseReader
	Notifier  Notifier
	Notes     WorkNoter
	Jobs      Jobs
	Validator Reevaluator
	Audit     audit.Recorder
	Metrics   *metrics.Metrics
	Config    *config.ClarificationConfig
}

// Manager owns the session FSM. All persistence goes through the
// session and gate stores; Slack and ServiceNow effects are best-effort
// except where noted.
type Manager struct {
	sessions Sessions
	gates    Gates
	clients  Clients
	cases    CaseReader
	notifier Notifier
	notes    WorkNoter
	jobs     Jobs
	validate Reevaluator
	audit    audit.Recorder
	metrics  *metrics.Metrics
	cfg      *config.ClarificationConfig
	logger   *slog.Logger
}

// NewManager creates a manager. A nil config falls back to the built-in
// defaults.
func NewManager(deps Deps) *Manager {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.DefaultClarificationConfig()
	}
	return &Manager{
		sessions: deps.Sessions,
		gates:    deps.Gates,
		clients:  deps.Clients,
		cases:    deps.Cases,
		notifier: deps.Notifier,
		notes:    deps.Notes,
		jobs:     deps.Jobs,
		validate: deps.Validator,
		audit:    deps.Audit,
		metrics:  deps.Metrics,
		cfg:      cfg,
		logger:   slog.Default().With("component", "clarify"),
	}
}

// OpenInput carries what a new session needs. ChannelID/ThreadTS point
// at the case-assist thread when one was posted.
type OpenInput struct {
	Gate      *models.QualityGate
	Case      models.Case
	Questions models.Questions
	ChannelID string
	ThreadTS  string
}

// Open creates an ACTIVE session for the gate's open questions and
// posts them to Slack. The expiry deadline comes from per-client
// settings with config defaults.
func (m *Manager) Open(ctx context.Context, in OpenInput) (*models.ClarificationSession, error) {
	if in.Gate == nil {
		return nil, taxonomy.Validation(errors.New("clarification session needs a gate"))
	}
	if len(in.Questions) == 0 {
		return nil, taxonomy.Validation(errors.New("clarification session needs at least one question"))
	}

	settings := m.settingsFor(ctx, in.Case.Company)
	session := &models.ClarificationSession{
		CaseSysID:  in.Gate.CaseSysID,
		CaseNumber: in.Gate.CaseNumber,
		GateID:     in.Gate.ID,
		Questions:  in.Questions,
		ChannelID:  in.ChannelID,
		ThreadTS:   in.ThreadTS,
		ExpiresAt:  time.Now().UTC().Add(settings.ttl),
	}
	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create clarification session: %w", err)
	}

	if m.notifier != nil {
		channel, ts := m.notifier.PostClarificationQuestions(ctx, session)
		if channel != "" && (channel != session.ChannelID || ts != session.ThreadTS) {
			if err := m.sessions.SetThread(ctx, session, channel, ts); err != nil {
				m.logger.Warn("Failed to record session thread",
					"session_id", session.ID,
					"error", err)
			}
		}
	}

	m.metrics.RecordSessionOpened()
	m.audit.Record(ctx, &models.AuditEntry{
		EntityType: models.AuditEntitySession,
		EntityID:   session.ID,
		Action:     "session_opened",
		NewState:   string(session.Status),
		Actor:      "system",
		Metadata: models.JSONMap{
			"case_number": session.CaseNumber,
			"gate_id":     session.GateID,
			"questions":   len(session.Questions),
			"expires_at":  session.ExpiresAt.Format(time.RFC3339),
		},
	})
	m.logger.Info("Clarification session opened",
		"session_id", session.ID,
		"case_number", session.CaseNumber,
		"questions", len(session.Questions),
		"expires_at", session.ExpiresAt)
	return session, nil
}

// ReplyInput is one Slack thread reply routed to a session.
type ReplyInput struct {
	ChannelID string
	ThreadTS  string
	UserID    string
	Text      string
}

// ReplyOutcome reports what a reply changed. Resolution is non-nil when
// the reply completed the required set and triggered re-validation.
type ReplyOutcome struct {
	Session    *models.ClarificationSession
	QuestionID string
	Resolution *Resolution
}

// HandleReply binds a thread reply to a question and saves it. Replies
// on threads without a session return store.ErrNotFound; replies on
// non-ACTIVE sessions are no-ops.
func (m *Manager) HandleReply(ctx context.Context, in ReplyInput) (*ReplyOutcome, error) {
	session, err := m.sessions.FindByThread(ctx, in.ChannelID, in.ThreadTS)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionStatusActive {
		return &ReplyOutcome{Session: session}, nil
	}

	qid, answer := bindReply(session, in.Text)
	if qid == "" {
		return &ReplyOutcome{Session: session}, nil
	}

	if session.Responses == nil {
		session.Responses = models.Responses{}
	}
	session.Responses[qid] = answer
	if err := m.sessions.SaveResponses(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session response: %w", err)
	}

	m.audit.Record(ctx, &models.AuditEntry{
		EntityType: models.AuditEntitySession,
		EntityID:   session.ID,
		Action:     "session_response",
		NewState:   string(session.Status),
		Actor:      in.UserID,
		Metadata: models.JSONMap{
			"case_number": session.CaseNumber,
			"question_id": qid,
		},
	})
	m.logger.Info("Clarification response recorded",
		"session_id", session.ID,
		"question_id", qid,
		"status", session.Status)

	outcome := &ReplyOutcome{Session: session, QuestionID: qid}
	if session.Status == models.SessionStatusResponded {
		resolution, err := m.Resolve(ctx, session)
		if err != nil {
			return outcome, err
		}
		outcome.Resolution = resolution
	}
	return outcome, nil
}

// bindReply picks the question a reply answers: a "qid: answer" prefix
// addresses that question, anything else goes to the first unanswered
// required question.
func bindReply(session *models.ClarificationSession, text string) (string, string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ""
	}
	if qid, answer, ok := strings.Cut(text, ":"); ok {
		qid = strings.TrimSpace(qid)
		if session.HasQuestion(qid) {
			return qid, strings.TrimSpace(answer)
		}
	}
	open := session.UnansweredRequired()
	if len(open) == 0 {
		return "", ""
	}
	return open[0].ID, text
}

// Resolution is the result of re-validating a responded session.
type Resolution struct {
	Gate    *models.QualityGate
	Verdict *validator.Verdict
	Resumed bool
}

// Resolve re-runs validation with the session's responses and settles
// the gate: approval resolves the session and enqueues the resume job,
// surviving hard errors block the gate.
func (m *Manager) Resolve(ctx context.Context, session *models.ClarificationSession) (*Resolution, error) {
	if session.Status != models.SessionStatusResponded {
		return nil, fmt.Errorf("%w: session %s is %s", store.ErrInvalidTransition, session.ID, session.Status)
	}

	gate, err := m.gates.Get(ctx, session.GateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load gate for session %s: %w", session.ID, err)
	}
	if gate.Decision.Classification == nil {
		return nil, taxonomy.Validation(fmt.Errorf("gate %s carries no classification to re-validate", gate.ID))
	}

	verdict := m.validate.Reevaluate(gate.Decision.Classification, session.Responses)
	resolution := &Resolution{Gate: gate, Verdict: verdict}

	switch verdict.Status {
	case models.GateStatusApproved:
		err = m.gates.Transition(ctx, gate, models.GateStatusApproved, store.TransitionParams{
			ReviewReason: "clarification answers cleared the open questions",
			RiskLevel:    verdict.RiskLevel,
			Decision:     verdict.Decision(gate.Decision.Classification),
		})
	case models.GateStatusBlocked:
		err = m.gates.Transition(ctx, gate, models.GateStatusBlocked, store.TransitionParams{
			ReviewReason: "hard errors survived clarification: " + strings.Join(verdict.Errors, "; "),
			RiskLevel:    verdict.RiskLevel,
			Decision:     verdict.Decision(gate.Decision.Classification),
		})
	default:
		// Generated questions are all required, so a responded session
		// cannot re-derive open ones. Leave the session RESPONDED if it
		// somehow does.
		m.logger.Warn("Re-validation left questions open",
			"session_id", session.ID,
			"status", verdict.Status)
		return resolution, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to settle gate %s: %w", gate.ID, err)
	}

	if err := m.sessions.Transition(ctx, session, models.SessionStatusResolved); err != nil {
		return resolution, fmt.Errorf("failed to resolve session: %w", err)
	}

	m.metrics.RecordGateOutcome(string(gate.Status))
	m.audit.Record(ctx, &models.AuditEntry{
		EntityType: models.AuditEntitySession,
		EntityID:   session.ID,
		Action:     "session_resolved",
		PriorState: string(models.SessionStatusResponded),
		NewState:   string(session.Status),
		Actor:      "system",
		Metadata: models.JSONMap{
			"case_number": session.CaseNumber,
			"gate_id":     gate.ID,
			"gate_status": string(gate.Status),
		},
	})

	if gate.Status == models.GateStatusApproved {
		resolution.Resumed = m.enqueueResume(ctx, session, gate)
	}
	m.logger.Info("Clarification session resolved",
		"session_id", session.ID,
		"case_number", session.CaseNumber,
		"gate_status", gate.Status,
		"resumed", resolution.Resumed)
	return resolution, nil
}

func (m *Manager) enqueueResume(ctx context.Context, session *models.ClarificationSession, gate *models.QualityGate) bool {
	if m.jobs == nil {
		return false
	}
	payload, err := json.Marshal(map[string]string{
		"case_sys_id": session.CaseSysID,
		"case_number": session.CaseNumber,
		"gate_id":     gate.ID,
		"session_id":  session.ID,
	})
	if err != nil {
		m.logger.Error("Failed to encode resume payload", "session_id", session.ID, "error", err)
		return false
	}
	job := &models.Job{
		Kind:      models.JobKindResumeCase,
		CaseSysID: session.CaseSysID,
		Payload:   models.JobPayload(payload),
	}
	if err := m.jobs.Enqueue(ctx, job); err != nil {
		m.logger.Error("Failed to enqueue resume job",
			"session_id", session.ID,
			"case_number", session.CaseNumber,
			"error", err)
		return false
	}
	return true
}

// MarkResumed transitions a resolved session to RESUMED. The resume job
// handler calls it before rerunning downstream side effects; calling it
// twice is a no-op.
func (m *Manager) MarkResumed(ctx context.Context, sessionID string) (*models.ClarificationSession, error) {
	session, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == models.SessionStatusResumed {
		return session, nil
	}
	if err := m.sessions.Transition(ctx, session, models.SessionStatusResumed); err != nil {
		return nil, fmt.Errorf("failed to mark session resumed: %w", err)
	}

	m.audit.Record(ctx, &models.AuditEntry{
		EntityType: models.AuditEntitySession,
		EntityID:   session.ID,
		Action:     "session_resumed",
		PriorState: string(models.SessionStatusResolved),
		NewState:   string(session.Status),
		Actor:      "system",
		Metadata:   models.JSONMap{"case_number": session.CaseNumber},
	})
	return session, nil
}

// OpenSession returns the newest session still collecting answers for
// a case.
func (m *Manager) OpenSession(ctx context.Context, caseSysID string) (*models.ClarificationSession, error) {
	return m.sessions.GetOpenByCase(ctx, caseSysID)
}

// CancelByCase cancels the open session for a case, for slash commands
// that only know the case id.
func (m *Manager) CancelByCase(ctx context.Context, caseSysID, actor, reason string) (*models.ClarificationSession, error) {
	session, err := m.sessions.GetOpenByCase(ctx, caseSysID)
	if err != nil {
		return nil, err
	}
	return m.Cancel(ctx, session.ID, actor, reason)
}

// Cancel abandons a session on a manual command. The linked gate moves
// to BLOCKED so the case still surfaces for human review.
func (m *Manager) Cancel(ctx context.Context, sessionID, actor, reason string) (*models.ClarificationSession, error) {
	session, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == models.SessionStatusCancelled {
		return session, nil
	}
	if err := m.sessions.Transition(ctx, session, models.SessionStatusCancelled); err != nil {
		return nil, fmt.Errorf("failed to cancel session: %w", err)
	}

	gate, err := m.gates.Get(ctx, session.GateID)
	if err != nil {
		m.logger.Warn("Failed to load gate for cancelled session",
			"session_id", session.ID,
			"gate_id", session.GateID,
			"error", err)
	} else if gate.Status == models.GateStatusClarificationNeeds {
		if err := m.gates.Transition(ctx, gate, models.GateStatusBlocked, store.TransitionParams{
			ReviewerID:   actor,
			ReviewReason: "clarification cancelled: " + reason,
			RiskLevel:    gate.RiskLevel,
		}); err != nil {
			m.logger.Warn("Failed to block gate after cancel",
				"gate_id", gate.ID,
				"error", err)
		}
	}

	m.audit.Record(ctx, &models.AuditEntry{
		EntityType: models.AuditEntitySession,
		EntityID:   session.ID,
		Action:     "session_cancelled",
		NewState:   string(session.Status),
		Actor:      actor,
		Reason:     reason,
		Metadata:   models.JSONMap{"case_number": session.CaseNumber},
	})
	m.logger.Info("Clarification session cancelled",
		"session_id", session.ID,
		"case_number", session.CaseNumber,
		"actor", actor)
	return session, nil
}

// SweepExpired expires every ACTIVE session past its deadline: the
// session and its gate move to EXPIRED, the case gets a work note, and
// the unanswered questions go to the escalation channel. Returns the
// number of sessions expired.
func (m *Manager) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	sessions, err := m.sessions.ListExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired sessions: %w", err)
	}

	expired := 0
	for _, session := range sessions {
		if err := m.sessions.Transition(ctx, session, models.SessionStatusExpired); err != nil {
			// A concurrent sweep already claimed it.
			m.logger.Warn("Failed to expire session",
				"session_id", session.ID,
				"error", err)
			continue
		}
		expired++

		gate, err := m.gates.Get(ctx, session.GateID)
		if err != nil {
			m.logger.Warn("Failed to load gate for expired session",
				"session_id", session.ID,
				"gate_id", session.GateID,
				"error", err)
		} else if gate.Status == models.GateStatusClarificationNeeds {
			if err := m.gates.Transition(ctx, gate, models.GateStatusExpired, store.TransitionParams{
				ReviewReason: "clarification window expired",
				RiskLevel:    gate.RiskLevel,
			}); err != nil {
				m.logger.Warn("Failed to expire gate",
					"gate_id", gate.ID,
					"error", err)
			}
		}

		if m.notes != nil {
			if err := m.notes.AppendWorkNote(ctx, session.CaseSysID, expiryNote(session)); err != nil {
				m.logger.Warn("Failed to append expiry work note",
					"case_number", session.CaseNumber,
					"error", err)
			}
		}
		if m.notifier != nil {
			m.notifier.PostExpiryNotice(ctx, session)
		}

		m.audit.Record(ctx, &models.AuditEntry{
			EntityType: models.AuditEntitySession,
			EntityID:   session.ID,
			Action:     "session_expired",
			PriorState: string(models.SessionStatusActive),
			NewState:   string(session.Status),
			Actor:      "system",
			Metadata: models.JSONMap{
				"case_number": session.CaseNumber,
				"unanswered":  len(session.UnansweredRequired()),
			},
		})
	}

	if expired > 0 {
		m.logger.Info("Expired clarification sessions", "count", expired)
	}
	return expired, nil
}

// SweepReminders nudges ACTIVE sessions inside their reminder window.
// The counter only moves when the post actually lands. Returns the
// number of reminders sent.
func (m *Manager) SweepReminders(ctx context.Context, now time.Time) (int, error) {
	sessions, err := m.sessions.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active sessions: %w", err)
	}

	sent := 0
	for _, session := range sessions {
		if session.ChannelID == "" || m.notifier == nil {
			continue
		}
		settings := m.sessionSettings(ctx, session)
		if session.RemindersSent >= settings.maxReminders {
			continue
		}
		due := session.ExpiresAt.Add(-settings.reminderLead)
		if now.Before(due) || !now.Before(session.ExpiresAt) {
			continue
		}
		if !m.notifier.PostReminder(ctx, session) {
			continue
		}
		if err := m.sessions.IncrementReminders(ctx, session); err != nil {
			m.logger.Warn("Failed to count reminder",
				"session_id", session.ID,
				"error", err)
			continue
		}
		m.metrics.RecordReminderSent()
		sent++
	}

	if sent > 0 {
		m.logger.Info("Sent clarification reminders", "count", sent)
	}
	return sent, nil
}

// resolvedSettings are the clarification knobs after per-client
// overrides.
type resolvedSettings struct {
	ttl          time.Duration
	reminderLead time.Duration
	maxReminders int
}

func (m *Manager) settingsFor(ctx context.Context, clientID string) resolvedSettings {
	out := resolvedSettings{
		ttl:          m.cfg.TTL.Duration(),
		reminderLead: time.Duration(m.cfg.ReminderLeadMinutes) * time.Minute,
		maxReminders: m.cfg.MaxReminders,
	}
	if m.clients == nil || clientID == "" {
		return out
	}
	settings, err := m.clients.Get(ctx, clientID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.logger.Warn("Failed to load client settings", "client", clientID, "error", err)
		}
		return out
	}
	if settings.ClarificationTTL > 0 {
		out.ttl = time.Duration(settings.ClarificationTTL) * time.Minute
	}
	if settings.ReminderLeadMinutes > 0 {
		out.reminderLead = time.Duration(settings.ReminderLeadMinutes) * time.Minute
	}
	if settings.MaxReminders > 0 {
		out.maxReminders = settings.MaxReminders
	}
	return out
}

// sessionSettings resolves per-client settings for a stored session by
// looking the case's company back up.
func (m *Manager) sessionSettings(ctx context.Context, session *models.ClarificationSession) resolvedSettings {
	client := ""
	if m.cases != nil {
		kase, err := m.cases.GetCase(ctx, session.CaseSysID)
		if err != nil {
			m.logger.Debug("Failed to resolve case for settings",
				"case_sys_id", session.CaseSysID,
				"error", err)
		} else {
			client = kase.Company
		}
	}
	return m.settingsFor(ctx, client)
}

func expiryNote(session *models.ClarificationSession) string {
	var b strings.Builder
	b.WriteString("[CasePilot] Clarification session expired without the required answers.")
	for _, q := range session.UnansweredRequired() {
		b.WriteString("\n- ")
		b.WriteString(q.Prompt)
	}
	b.WriteString("\nThe quality gate is now EXPIRED; re-trigger intake after gathering the details.")
	return b.String()
}
