// Package repository provides the case-data access layer: a legacy
// path calling ServiceNow directly and a cached repository path layered
// over the same client, with per-caller routing and legacy fallback
// driven by the feature-flag evaluator.
package repository

import (
	"context"

	"github.com/caseops/casepilot/pkg/models"
	"github.com/caseops/casepilot/pkg/overview"
	"github.com/caseops/casepilot/pkg/servicenow"
)

// Client is the slice of the ServiceNow client both paths are built on.
type Client interface {
	GetCase(ctx context.Context, sysID string) (*models.Case, error)
	GetCaseByNumber(ctx context.Context, number string) (*models.Case, error)
	QuerySimilarCases(ctx context.Context, kase *models.Case, limit int) ([]models.SimilarCase, error)
	AppendWorkNote(ctx context.Context, sysID, note string) error
	AppendOverviewNote(ctx context.Context, sysID string, artifact *overview.Artifact) error
	SearchKB(ctx context.Context, query string, limit int) ([]models.KBArticle, error)
	ListCompanyCIs(ctx context.Context, company string, limit int) ([]string, error)
	GetBusinessContext(ctx context.Context, company string) (*models.BusinessContext, error)
	ListAssignmentGroups(ctx context.Context, limit int) ([]string, error)
}

var _ Client = (*servicenow.Client)(nil)

// CaseReader reads case snapshots.
type CaseReader interface {
	GetCase(ctx context.Context, sysID string) (*models.Case, error)
	GetCaseByNumber(ctx context.Context, number string) (*models.Case, error)
}

// BusinessReader resolves company business context and the
// assignment-group catalog.
type BusinessReader interface {
	GetBusinessContext(ctx context.Context, company string) (*models.BusinessContext, error)
	ListAssignmentGroups(ctx context.Context) ([]string, error)
}

// KBReader searches knowledge-base articles.
type KBReader interface {
	SearchKB(ctx context.Context, query string, limit int) ([]models.KBArticle, error)
}

// SimilarCaseReader finds resolved cases like the given one.
type SimilarCaseReader interface {
	QuerySimilarCases(ctx context.Context, kase *models.Case, limit int) ([]models.SimilarCase, error)
}

// WorkNoteWriter appends journal entries to a case.
type WorkNoteWriter interface {
	AppendWorkNote(ctx context.Context, sysID, note string) error
	AppendOverviewNote(ctx context.Context, sysID string, artifact *overview.Artifact) error
}

// Repo bundles every reader and writer the engine consumes.
type Repo interface {
	CaseReader
	BusinessReader
	KBReader
	SimilarCaseReader
	WorkNoteWriter
}
