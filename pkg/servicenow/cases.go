package servicenow

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/caseops/casepilot/pkg/models"
	"github.com/caseops/casepilot/pkg/overview"
	"github.com/caseops/casepilot/pkg/taxonomy"
)

const caseTable = "sn_customerservice_case"

// caseRecord is the Table API shape of a case with display values.
type caseRecord struct {
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
	State            string `json:"state"`
	OpenedAt         string `json:"opened_at"`
	Resolution       string `json:"close_notes"`
	ClosedAt         string `json:"closed_at"`
}

func (r caseRecord) toCase() *models.Case {
	return &models.Case{
		SysID:            r.SysID,
		Number:           r.Number,
		ShortDescription: r.ShortDescription,
		Description:      r.Description,
		Priority:         r.Priority,
		Urgency:          r.Urgency,
		Company:          r.Company,
		AssignmentGroup:  r.AssignmentGroup,
		Account:          r.Account,
		Category:         r.Category,
		State:            r.State,
		OpenedAt:         r.OpenedAt,
	}
}

// displayParams are shared query params: values come back as display
// strings, reference fields without link objects.
func displayParams() url.Values {
	return url.Values{
		"sysparm_display_value":          {"true"},
		"sysparm_exclude_reference_link": {"true"},
	}
}

// GetCase fetches one case by sys_id.
func (c *Client) GetCase(ctx context.Context, sysID string) (*models.Case, error) {
	if sysID == "" {
		return nil, taxonomy.Validation(fmt.Errorf("sys_id is required"))
	}

	var envelope struct {
		Result caseRecord `json:"result"`
	}
	u := c.tableURL(caseTable+"/"+url.PathEscape(sysID), displayParams())
	if err := c.getJSON(ctx, u, &envelope); err != nil {
		return nil, err
	}
	return envelope.Result.toCase(), nil
}

// GetCaseByNumber fetches one case by its human-facing number.
func (c *Client) GetCaseByNumber(ctx context.Context, number string) (*models.Case, error) {
	if number == "" {
		return nil, taxonomy.Validation(fmt.Errorf("case number is required"))
	}

	params := displayParams()
	params.Set("sysparm_query", "number="+number)
	params.Set("sysparm_limit", "1")

	var envelope struct {
		Result []caseRecord `json:"result"`
	}
	if err := c.getJSON(ctx, c.tableURL(caseTable, params), &envelope); err != nil {
		return nil, err
	}
	if len(envelope.Result) == 0 {
		return nil, ErrNotFound
	}
	return envelope.Result[0].toCase(), nil
}

// QuerySimilarCases finds resolved cases resembling the given one:
// same category when known, otherwise a text match on the short
// description. The case itself is excluded.
func (c *Client) QuerySimilarCases(ctx context.Context, kase *models.Case, limit int) ([]models.SimilarCase, error) {
	if kase == nil || kase.Number == "" {
		return nil, taxonomy.Validation(fmt.Errorf("case with number is required"))
	}
	if limit <= 0 {
		limit = 5
	}

	query := "number!=" + kase.Number + "^stateINResolved,Closed"
	if kase.Category != "" {
		query += "^category=" + kase.Category
	} else if kase.ShortDescription != "" {
		query += "^123TEXTQUERY321=" + kase.ShortDescription
	}
	query += "^ORDERBYDESCsys_updated_on"

	params := displayParams()
	params.Set("sysparm_query", query)
	params.Set("sysparm_limit", strconv.Itoa(limit))

	var envelope struct {
		Result []caseRecord `json:"result"`
	}
	if err := c.getJSON(ctx, c.tableURL(caseTable, params), &envelope); err != nil {
		return nil, err
	}

	similar := make([]models.SimilarCase, 0, len(envelope.Result))
	for _, r := range envelope.Result {
		similar = append(similar, models.SimilarCase{
			Number:           r.Number,
			ShortDescription: r.ShortDescription,
			Category:         r.Category,
			Resolution:       r.Resolution,
			ClosedAt:         r.ClosedAt,
		})
	}
	return similar, nil
}

// AppendWorkNote appends plain text to the case's work_notes journal.
func (c *Client) AppendWorkNote(ctx context.Context, sysID, note string) error {
	if sysID == "" {
		return taxonomy.Validation(fmt.Errorf("sys_id is required"))
	}
	if note == "" {
		return taxonomy.Validation(fmt.Errorf("work note is empty"))
	}

	u := c.tableURL(caseTable+"/"+url.PathEscape(sysID), nil)
	return c.patchJSON(ctx, u, map[string]string{"work_notes": note})
}

// AppendOverviewNote renders an overview artifact and appends it as a
// work note. The artifact must carry the five sections in order.
func (c *Client) AppendOverviewNote(ctx context.Context, sysID string, artifact *overview.Artifact) error {
	if artifact == nil {
		return taxonomy.Validation(fmt.Errorf("overview artifact is nil"))
	}
	text := artifact.Render()
	if err := overview.ValidateArtifact(text); err != nil {
		return taxonomy.Validation(err)
	}
	return c.AppendWorkNote(ctx, sysID, text)
}
