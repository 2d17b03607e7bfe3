// Package models defines the domain entities shared across the engine:
// cases, context packs, classification results, quality gates,
// clarification sessions, escalations, exemplars, and audit entries.
package models

import "time"

// Case is a read-through snapshot of a ServiceNow case. The core never
// creates or deletes cases; SysID is the stable identity, Number the
// human-facing one.
type Case struct {
	SysID            string `json:"sys_id"`
	Number           string `json:"number"`
	ShortDescription string `json:"short_description"`
	Description      string `json:"description"`
	Priority         string `json:"priority"`
	Urgency          string `json:"urgency"`
	Company          string `json:"company"`
	AssignmentGroup  string `json:"assignment_group"`
	Account          string `json:"account"`
	Category         string `json:"category"`
	State            string `json:"state,omitempty"`
	OpenedAt         string `json:"opened_at,omitempty"`
}

// BusinessContext is the resolved business-entity context for a case's
// company: account standing, service hours, notable CIs.
type BusinessContext struct {
	Company       string   `json:"company"`
	AccountTier   string   `json:"account_tier,omitempty"`
	ServiceHours  string   `json:"service_hours,omitempty"`
	EscalationVIP bool     `json:"escalation_vip,omitempty"`
	KeyContacts   []string `json:"key_contacts,omitempty"`
	CriticalCIs   []string `json:"critical_cis,omitempty"`
	Notes         string   `json:"notes,omitempty"`
}

// SimilarCase is a prior case surfaced by the similar-case search.
type SimilarCase struct {
	Number           string `json:"number"`
	ShortDescription string `json:"short_description"`
	Category         string `json:"category,omitempty"`
	Resolution       string `json:"resolution,omitempty"`
	ClosedAt         string `json:"closed_at,omitempty"`
}

// KBArticle is a knowledge-base article surfaced for a case.
type KBArticle struct {
	Number  string `json:"number"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
	URL     string `json:"url,omitempty"`
}

// ContextPack is the per-run enrichment bundle fed to the pipeline.
// Each optional section is either fully present or entirely absent;
// a partial fetch drops the whole section.
type ContextPack struct {
	Case         Case             `json:"case"`
	Business     *BusinessContext `json:"business,omitempty"`
	SimilarCases []SimilarCase    `json:"similar_cases,omitempty"`
	KBArticles   []KBArticle      `json:"kb_articles,omitempty"`
	Exemplars    []Exemplar       `json:"exemplars,omitempty"`
	BuiltAt      time.Time        `json:"built_at"`
}
