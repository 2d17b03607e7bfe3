package servicenow

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/caseops/casepilot/pkg/models"
	"github.com/caseops/casepilot/pkg/taxonomy"
)

const (
	kbTable      = "kb_knowledge"
	ciTable      = "cmdb_ci"
	accountTable = "customer_account"
	groupTable   = "sys_user_group"
)

const kbSnippetLimit = 400

// SearchKB returns published knowledge-base articles matching the query
// text, best match first.
func (c *Client) SearchKB(ctx context.Context, query string, limit int) ([]models.KBArticle, error) {
	if strings.TrimSpace(query) == "" {
		return nil, taxonomy.Validation(fmt.Errorf("kb query is empty"))
	}
	if limit <= 0 {
		limit = 5
	}

	params := displayParams()
	params.Set("sysparm_query", "workflow_state=published^123TEXTQUERY321="+query)
	params.Set("sysparm_limit", strconv.Itoa(limit))

	var envelope struct {
		Result []struct {
			SysID            string `json:"sys_id"`
			Number           string `json:"number"`
			ShortDescription string `json:"short_description"`
			Text             string `json:"text"`
		} `json:"result"`
	}
	if err := c.getJSON(ctx, c.tableURL(kbTable, params), &envelope); err != nil {
		return nil, err
	}

	articles := make([]models.KBArticle, 0, len(envelope.Result))
	for _, r := range envelope.Result {
		articles = append(articles, models.KBArticle{
			Number:  r.Number,
			Title:   r.ShortDescription,
			Snippet: snippet(r.Text, kbSnippetLimit),
			URL:     c.baseURL + "/kb_view.do?sys_kb_id=" + url.QueryEscape(r.SysID),
		})
	}
	return articles, nil
}

// ListCompanyCIs returns the names of operational configuration items
// belonging to the company.
func (c *Client) ListCompanyCIs(ctx context.Context, company string, limit int) ([]string, error) {
	if company == "" {
		return nil, taxonomy.Validation(fmt.Errorf("company is required"))
	}
	if limit <= 0 {
		limit = 20
	}

	params := displayParams()
	params.Set("sysparm_query", "company.name="+company+"^operational_status=1")
	params.Set("sysparm_fields", "name")
	params.Set("sysparm_limit", strconv.Itoa(limit))

	var envelope struct {
		Result []struct {
			Name string `json:"name"`
		} `json:"result"`
	}
	if err := c.getJSON(ctx, c.tableURL(ciTable, params), &envelope); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(envelope.Result))
	for _, r := range envelope.Result {
		if r.Name != "" {
			names = append(names, r.Name)
		}
	}
	return names, nil
}

// GetBusinessContext reads the customer account record for a company.
// Missing accounts return ErrNotFound; enrichment treats that as an
// absent section, not a failure.
func (c *Client) GetBusinessContext(ctx context.Context, company string) (*models.BusinessContext, error) {
	if company == "" {
		return nil, taxonomy.Validation(fmt.Errorf("company is required"))
	}

	params := displayParams()
	params.Set("sysparm_query", "name="+company)
	params.Set("sysparm_limit", "1")

	var envelope struct {
		Result []struct {
			Name          string `json:"name"`
			AccountTier   string `json:"u_account_tier"`
			ServiceHours  string `json:"u_service_hours"`
			EscalationVIP string `json:"u_escalation_vip"`
			KeyContacts   string `json:"u_key_contacts"`
			Notes         string `json:"comments"`
		} `json:"result"`
	}
	if err := c.getJSON(ctx, c.tableURL(accountTable, params), &envelope); err != nil {
		return nil, err
	}
	if len(envelope.Result) == 0 {
		return nil, ErrNotFound
	}

	r := envelope.Result[0]
	bc := &models.BusinessContext{
		Company:       r.Name,
		AccountTier:   r.AccountTier,
		ServiceHours:  r.ServiceHours,
		EscalationVIP: strings.EqualFold(r.EscalationVIP, "true"),
		Notes:         r.Notes,
	}
	for _, contact := range strings.Split(r.KeyContacts, ",") {
		if contact = strings.TrimSpace(contact); contact != "" {
			bc.KeyContacts = append(bc.KeyContacts, contact)
		}
	}
	return bc, nil
}

// ListAssignmentGroups returns the names of active assignment groups,
// alphabetically.
func (c *Client) ListAssignmentGroups(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 200
	}

	params := displayParams()
	params.Set("sysparm_query", "active=true^ORDERBYname")
	params.Set("sysparm_fields", "name")
	params.Set("sysparm_limit", strconv.Itoa(limit))

	var envelope struct {
		Result []struct {
			Name string `json:"name"`
		} `json:"result"`
	}
	if err := c.getJSON(ctx, c.tableURL(groupTable, params), &envelope); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(envelope.Result))
	for _, r := range envelope.Result {
		if r.Name != "" {
			names = append(names, r.Name)
		}
	}
	return names, nil
}

func snippet(text string, limit int) string {
	text = strings.TrimSpace(text)
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}
