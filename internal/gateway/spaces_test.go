package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newSpacesServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s, _ := newTestServer(t)
	s.cfg.Spaces.Enabled = true
	s.cfg.Spaces.ProjectSecrets = map[string]string{"crm-digest": "s3cret"}

	mux := http.NewServeMux()
	s.registerSpacesRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return s, ts
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeSpacesResponse(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	return body
}

func TestSpacesRejectsBadSecret(t *testing.T) {
	_, ts := newSpacesServer(t)
	cases := []struct {
		name string
		body string
	}{
		{"wrong secret", `{"project_name": "crm-digest", "project_secret": "wrong", "role": "quick_ai_search"}`},
		{"unknown project", `{"project_name": "nope", "project_secret": "s3cret", "role": "quick_ai_search"}`},
		{"missing secret", `{"project_name": "crm-digest", "role": "quick_ai_search"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/api/lucy-spaces/tools/call", tc.body)
			if resp.StatusCode != http.StatusForbidden {
				t.Errorf("status = %d, want 403", resp.StatusCode)
			}
			body := decodeSpacesResponse(t, resp)
			if body["success"] != false || body["error"] == "" {
				t.Errorf("body = %v, want success=false with error", body)
			}
		})
	}
}

func TestSpacesUnknownRole(t *testing.T) {
	_, ts := newSpacesServer(t)
	resp := postJSON(t, ts.URL+"/api/lucy-spaces/tools/call",
		`{"project_name": "crm-digest", "project_secret": "s3cret", "role": "rm_rf"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if body := decodeSpacesResponse(t, resp); body["success"] != false {
		t.Errorf("body = %v, want success=false", body)
	}
}

func TestSpacesGatewayRoleUnconfigured(t *testing.T) {
	s, ts := newSpacesServer(t)
	s.cfg.Tools.GatewayURL = ""
	resp := postJSON(t, ts.URL+"/api/lucy-spaces/tools/call",
		`{"project_name": "crm-digest", "project_secret": "s3cret", "role": "text2im", "arguments": {"prompt": "a fox"}}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if body := decodeSpacesResponse(t, resp); body["success"] != false {
		t.Errorf("body = %v, want success=false", body)
	}
}

func TestSpacesSendEmailValidation(t *testing.T) {
	_, ts := newSpacesServer(t)

	resp := postJSON(t, ts.URL+"/api/lucy-spaces/send-email",
		`{"project_name": "crm-digest", "project_secret": "s3cret", "subject": "no recipient"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing to_email: status = %d, want 400", resp.StatusCode)
	}
	if body := decodeSpacesResponse(t, resp); body["success"] != false {
		t.Errorf("body = %v, want success=false", body)
	}

	// Email service not configured.
	resp = postJSON(t, ts.URL+"/api/lucy-spaces/send-email",
		`{"project_name": "crm-digest", "project_secret": "s3cret", "to_email": "a@b.co", "subject": "hi", "html_content": "<p>hi</p>"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("unconfigured email: status = %d, want 503", resp.StatusCode)
	}
}

func TestSpacesMalformedBody(t *testing.T) {
	_, ts := newSpacesServer(t)
	resp := postJSON(t, ts.URL+"/api/lucy-spaces/tools/call", `{"project_name":`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
