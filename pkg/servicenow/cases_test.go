package servicenow

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseops/casepilot/pkg/models"
	"github.com/caseops/casepilot/pkg/overview"
	"github.com/caseops/casepilot/pkg/taxonomy"
)

func TestGetCase(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/now/table/sn_customerservice_case/sys-1", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("sysparm_display_value"))
		assert.Equal(t, "true", r.URL.Query().Get("sysparm_exclude_reference_link"))
		respondJSON(t, w, map[string]any{"result": map[string]string{
			"sys_id":            "sys-1",
			"number":            "SCS1001",
			"short_description": "VPN down",
			"priority":          "2 - High",
			"company":           "Acme Corp",
			"assignment_group":  "Network Ops",
			"category":          "Network",
			"state":             "Open",
		}})
	}))
	defer server.Close()

	kase, err := newTestClient(t, server).GetCase(t.Context(), "sys-1")

	require.NoError(t, err)
	assert.Equal(t, "SCS1001", kase.Number)
	assert.Equal(t, "VPN down", kase.ShortDescription)
	assert.Equal(t, "Network Ops", kase.AssignmentGroup)
}

func TestGetCase_EmptySysID(t *testing.T) {
	client, err := NewClient(Config{BaseURL: "https://sn.example", Token: "t"})
	require.NoError(t, err)

	_, err = client.GetCase(t.Context(), "")
	require.Error(t, err)
	assert.Equal(t, taxonomy.KindValidation, taxonomy.KindOf(err))
}

func TestGetCaseByNumber(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "number=SCS1001", r.URL.Query().Get("sysparm_query"))
		assert.Equal(t, "1", r.URL.Query().Get("sysparm_limit"))
		respondJSON(t, w, map[string]any{"result": []map[string]string{{
			"sys_id": "sys-1",
			"number": "SCS1001",
		}}})
	}))
	defer server.Close()

	kase, err := newTestClient(t, server).GetCaseByNumber(t.Context(), "SCS1001")

	require.NoError(t, err)
	assert.Equal(t, "sys-1", kase.SysID)
}

func TestGetCaseByNumber_Missing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(t, w, map[string]any{"result": []map[string]string{}})
	}))
	defer server.Close()

	_, err := newTestClient(t, server).GetCaseByNumber(t.Context(), "SCS9999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQuerySimilarCases(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("sysparm_query")
		respondJSON(t, w, map[string]any{"result": []map[string]string{
			{
				"number":            "SCS0900",
				"short_description": "VPN outage after firmware update",
				"category":          "Network",
				"close_notes":       "Rolled back firmware",
				"closed_at":         "2025-07-01 10:00:00",
			},
		}})
	}))
	defer server.Close()

	kase := &models.Case{Number: "SCS1001", Category: "Network", ShortDescription: "VPN down"}
	similar, err := newTestClient(t, server).QuerySimilarCases(t.Context(), kase, 5)

	require.NoError(t, err)
	require.Len(t, similar, 1)
	assert.Equal(t, "Rolled back firmware", similar[0].Resolution)

	assert.Contains(t, gotQuery, "number!=SCS1001")
	assert.Contains(t, gotQuery, "stateINResolved,Closed")
	assert.Contains(t, gotQuery, "category=Network")
	assert.NotContains(t, gotQuery, "123TEXTQUERY321", "category match should win over text search")
}

func TestQuerySimilarCases_TextFallback(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("sysparm_query")
		respondJSON(t, w, map[string]any{"result": []map[string]string{}})
	}))
	defer server.Close()

	kase := &models.Case{Number: "SCS1001", ShortDescription: "VPN down"}
	_, err := newTestClient(t, server).QuerySimilarCases(t.Context(), kase, 0)

	require.NoError(t, err)
	assert.Contains(t, gotQuery, "123TEXTQUERY321=VPN down")
}

func TestAppendWorkNote(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &gotBody))
		respondJSON(t, w, map[string]any{"result": map[string]string{"sys_id": "sys-1"}})
	}))
	defer server.Close()

	err := newTestClient(t, server).AppendWorkNote(t.Context(), "sys-1", "triage note")

	require.NoError(t, err)
	assert.Equal(t, http.MethodPatch, gotMethod)
	assert.Equal(t, "/api/now/table/sn_customerservice_case/sys-1", gotPath)
	assert.Equal(t, "triage note", gotBody["work_notes"])
}

func TestAppendWorkNote_EmptyNote(t *testing.T) {
	client, err := NewClient(Config{BaseURL: "https://sn.example", Token: "t"})
	require.NoError(t, err)

	err = client.AppendWorkNote(t.Context(), "sys-1", "")
	require.Error(t, err)
	assert.Equal(t, taxonomy.KindValidation, taxonomy.KindOf(err))
}

func TestAppendOverviewNote(t *testing.T) {
	var gotNote string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &body))
		gotNote = body["work_notes"]
		respondJSON(t, w, map[string]any{"result": map[string]string{}})
	}))
	defer server.Close()

	artifact := overview.Build(overview.Input{
		Case: models.Case{Number: "SCS1001", ShortDescription: "VPN down"},
	})
	err := newTestClient(t, server).AppendOverviewNote(t.Context(), "sys-1", artifact)

	require.NoError(t, err)
	for _, title := range overview.SectionTitles() {
		assert.Contains(t, gotNote, title+":")
	}
}

func TestAppendOverviewNote_NilArtifact(t *testing.T) {
	client, err := NewClient(Config{BaseURL: "https://sn.example", Token: "t"})
	require.NoError(t, err)

	err = client.AppendOverviewNote(t.Context(), "sys-1", nil)
	require.Error(t, err)
	assert.Equal(t, taxonomy.KindValidation, taxonomy.KindOf(err))
}

func TestTableURLEscaping(t *testing.T) {
	client, err := NewClient(Config{BaseURL: "https://sn.example", Token: "t"})
	require.NoError(t, err)

	params := url.Values{"sysparm_query": {"number=SCS 1"}}
	u := client.tableURL("kb_knowledge", params)
	assert.Equal(t, "https://sn.example/api/now/table/kb_knowledge?sysparm_query=number%3DSCS+1", u)
}
