package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/lucyhq/lucy/internal/providers"
	"github.com/lucyhq/lucy/internal/router"
	"github.com/lucyhq/lucy/internal/tools"
)

// Spaces roles callable by Lucy-built apps.
const (
	RoleQuickAISearch  = "quick_ai_search"
	RoleTextToImage    = "text2im"
	RoleFileToMarkdown = "file_to_markdown"
)

func (s *Server) registerSpacesRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/lucy-spaces/send-email", s.handleSpacesSendEmail)
	mux.HandleFunc("POST /api/lucy-spaces/tools/call", s.handleSpacesToolCall)
}

// authorizeProject checks the shared secret for a project. Unknown projects
// and mismatched secrets are both 403; the caller learns nothing about which.
func (s *Server) authorizeProject(project, secret string) bool {
	want, ok := s.cfg.Spaces.ProjectSecrets[project]
	if !ok || want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(secret)) == 1
}

type spacesEmailRequest struct {
	ProjectName   string `json:"project_name"`
	ProjectSecret string `json:"project_secret"`
	ToEmail       string `json:"to_email"`
	Subject       string `json:"subject"`
	HTMLContent   string `json:"html_content,omitempty"`
	TextContent   string `json:"text_content,omitempty"`
	EmailType     string `json:"email_type,omitempty"`
}

func (s *Server) handleSpacesSendEmail(w http.ResponseWriter, r *http.Request) {
	var req spacesEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		spacesError(w, http.StatusBadRequest, "malformed request")
		return
	}
	if !s.authorizeProject(req.ProjectName, req.ProjectSecret) {
		spacesError(w, http.StatusForbidden, "forbidden")
		return
	}
	if req.ToEmail == "" || req.Subject == "" {
		spacesError(w, http.StatusBadRequest, "to_email and subject are required")
		return
	}
	if !s.cfg.Email.Enabled || s.cfg.Email.ListenerURL == "" {
		spacesError(w, http.StatusServiceUnavailable, "email is not configured")
		return
	}

	emailType := req.EmailType
	if emailType == "" {
		emailType = "spaces"
	}
	client := tools.NewEmailClient(s.cfg.Email.ListenerURL, s.cfg.Email.Token)
	err := client.Send(r.Context(), tools.OutboundEmail{
		To:        req.ToEmail,
		Subject:   req.Subject,
		HTML:      req.HTMLContent,
		Text:      req.TextContent,
		EmailType: emailType,
	})
	if err != nil {
		slog.Error("spaces email send failed", "project", req.ProjectName, "error", err)
		spacesError(w, http.StatusBadGateway, "send failed")
		return
	}
	slog.Info("spaces email sent", "project", req.ProjectName)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type spacesToolRequest struct {
	ProjectName   string         `json:"project_name"`
	ProjectSecret string         `json:"project_secret"`
	Role          string         `json:"role"`
	Arguments     map[string]any `json:"arguments"`
}

func spacesError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func (s *Server) handleSpacesToolCall(w http.ResponseWriter, r *http.Request) {
	var req spacesToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		spacesError(w, http.StatusBadRequest, "malformed request")
		return
	}
	if !s.authorizeProject(req.ProjectName, req.ProjectSecret) {
		spacesError(w, http.StatusForbidden, "forbidden")
		return
	}

	switch req.Role {
	case RoleQuickAISearch:
		s.spacesQuickSearch(w, r, req)
	case RoleTextToImage, RoleFileToMarkdown:
		s.spacesGatewayRole(w, r, req)
	default:
		spacesError(w, http.StatusBadRequest, "unknown role")
	}
}

// spacesQuickSearch answers a one-shot question on the fast tier.
func (s *Server) spacesQuickSearch(w http.ResponseWriter, r *http.Request, req spacesToolRequest) {
	query, _ := req.Arguments["query"].(string)
	if query == "" {
		spacesError(w, http.StatusBadRequest, "arguments.query is required")
		return
	}
	ctx, cancel := contextWithSpacesTimeout(r)
	defer cancel()
	resp, err := s.router.Route(ctx, router.Request{
		Messages: []providers.Message{{Role: "user", Content: query}},
		Tier:     "fast",
	}, nil)
	if err != nil {
		spacesError(w, http.StatusBadGateway, "model unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": resp.Content})
}

// spacesGatewayRole forwards image generation and file conversion to the
// remote tool gateway.
func (s *Server) spacesGatewayRole(w http.ResponseWriter, r *http.Request, req spacesToolRequest) {
	if s.cfg.Tools.GatewayURL == "" {
		spacesError(w, http.StatusServiceUnavailable, "tool gateway is not configured")
		return
	}
	ctx, cancel := contextWithSpacesTimeout(r)
	defer cancel()
	client := tools.NewGatewayClient(s.cfg.Tools.GatewayURL, s.cfg.Tools.GatewayToken)
	result, err := client.Invoke(ctx, req.Role, req.Arguments)
	if err != nil {
		slog.Error("spaces gateway role failed", "role", req.Role, "error", err)
		spacesError(w, http.StatusBadGateway, "tool call failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": json.RawMessage(result)})
}

func contextWithSpacesTimeout(r *http.Request) (ctx context.Context, cancel context.CancelFunc) {
	return context.WithTimeout(r.Context(), 60*time.Second)
}
