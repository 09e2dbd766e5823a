package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"postflow/internal/api"
	"postflow/internal/pipeline"
	"postflow/internal/project"
	"postflow/internal/services/content"
	"postflow/internal/stages"
	"postflow/internal/testsupport"
)

type stubGenerator struct{}

func (stubGenerator) CleanTranscript(ctx context.Context, raw string) (string, error) {
	return raw, nil
}

func (stubGenerator) ExtractInsights(ctx context.Context, cleaned string, maxInsights int) ([]content.InsightDraft, error) {
	return nil, nil
}

func (stubGenerator) GeneratePost(ctx context.Context, insight string, platform project.Platform) (content.PostDraft, error) {
	return content.PostDraft{}, nil
}

type stubDispatcher struct {
	claimed  int
	requeued int64
}

func (d *stubDispatcher) DispatchOnce(ctx context.Context) (int, error) { return d.claimed, nil }

func (d *stubDispatcher) RetrySweep(ctx context.Context) (int64, error) { return d.requeued, nil }

func newTestServer(t *testing.T) (*httptest.Server, *pipeline.Service) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	mgr := pipeline.NewManager(cfg, st, stubGenerator{}, nil, nil)
	svc := pipeline.NewService(cfg, st, mgr.Tracker(), nil, nil)

	srv := api.NewServer(svc, &stubDispatcher{claimed: 2, requeued: 1}, nil, nil, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, svc
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dest any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestCreateAndGetProject(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/projects", map[string]string{
		"title":      "Episode 4",
		"transcript": "hello world transcript",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	var created api.ProjectView
	decodeBody(t, resp, &created)
	if created.ID == "" || created.Stage != stages.StageRawContent {
		t.Fatalf("unexpected created project: %#v", created)
	}

	getResp, err := http.Get(ts.URL + "/api/v1/projects/" + created.ID)
	if err != nil {
		t.Fatalf("GET project: %v", err)
	}
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", getResp.StatusCode)
	}
	var agg api.AggregateView
	decodeBody(t, getResp, &agg)
	if agg.Project.ID != created.ID || agg.RawTranscript == "" {
		t.Fatalf("unexpected aggregate view: %#v", agg.Project)
	}
}

func TestGetProjectNotFoundEnvelope(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/projects/does-not-exist")
	if err != nil {
		t.Fatalf("GET project: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	decodeBody(t, resp, &envelope)
	if envelope.Error.Code != "not_found" || envelope.Error.Message == "" {
		t.Fatalf("unexpected error envelope: %#v", envelope)
	}
}

func TestListProjectsRejectsUnknownStage(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/projects/?stage=bogus")
	if err != nil {
		t.Fatalf("GET projects: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStartProcessingConflictsOnRepeat(t *testing.T) {
	ts, svc := newTestServer(t)
	ctx := context.Background()

	p, err := svc.CreateProject(ctx, "Repeat", "transcript words", testsupport.DefaultWorkflow())
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	resp := postJSON(t, ts.URL+"/api/v1/projects/"+p.ID+"/process", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first process status = %d, want 202", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/api/v1/projects/"+p.ID+"/process", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second process status = %d, want 409", resp.StatusCode)
	}
}

func TestDispatchEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/dispatch", nil)
	var dispatched map[string]int
	decodeBody(t, resp, &dispatched)
	if resp.StatusCode != http.StatusOK || dispatched["claimed"] != 2 {
		t.Fatalf("dispatch response = %d %v", resp.StatusCode, dispatched)
	}

	resp = postJSON(t, ts.URL+"/api/v1/dispatch/sweep", nil)
	var swept map[string]int64
	decodeBody(t, resp, &swept)
	if resp.StatusCode != http.StatusOK || swept["requeued"] != 1 {
		t.Fatalf("sweep response = %d %v", resp.StatusCode, swept)
	}
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
