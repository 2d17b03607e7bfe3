package repository

import (
	"context"

	"github.com/caseops/casepilot/pkg/models"
	"github.com/caseops/casepilot/pkg/overview"
)

// How many critical CIs ride along on a business context, and how many
// assignment groups the catalog read returns.
const (
	criticalCILimit      = 10
	assignmentGroupLimit = 200
)

// Legacy is the original read path: every call goes straight to the
// ServiceNow client, nothing is cached.
type Legacy struct {
	client Client
}

var _ Repo = (*Legacy)(nil)

// NewLegacy creates the direct-call repository.
func NewLegacy(client Client) *Legacy {
	return &Legacy{client: client}
}

func (l *Legacy) GetCase(ctx context.Context, sysID string) (*models.Case, error) {
	return l.client.GetCase(ctx, sysID)
}

func (l *Legacy) GetCaseByNumber(ctx context.Context, number string) (*models.Case, error) {
	return l.client.GetCaseByNumber(ctx, number)
}

func (l *Legacy) QuerySimilarCases(ctx context.Context, kase *models.Case, limit int) ([]models.SimilarCase, error) {
	return l.client.QuerySimilarCases(ctx, kase, limit)
}

func (l *Legacy) SearchKB(ctx context.Context, query string, limit int) ([]models.KBArticle, error) {
	return l.client.SearchKB(ctx, query, limit)
}

// GetBusinessContext stitches the company's critical CIs onto the
// account record. Any failure surfaces so the enrichment layer can drop
// the whole section.
func (l *Legacy) GetBusinessContext(ctx context.Context, company string) (*models.BusinessContext, error) {
	bc, err := l.client.GetBusinessContext(ctx, company)
	if err != nil {
		return nil, err
	}
	cis, err := l.client.ListCompanyCIs(ctx, company, criticalCILimit)
	if err != nil {
		return nil, err
	}
	bc.CriticalCIs = cis
	return bc, nil
}

func (l *Legacy) ListAssignmentGroups(ctx context.Context) ([]string, error) {
	return l.client.ListAssignmentGroups(ctx, assignmentGroupLimit)
}

func (l *Legacy) AppendWorkNote(ctx context.Context, sysID, note string) error {
	return l.client.AppendWorkNote(ctx, sysID, note)
}

func (l *Legacy) AppendOverviewNote(ctx context.Context, sysID string, artifact *overview.Artifact) error {
	return l.client.AppendOverviewNote(ctx, sysID, artifact)
}
