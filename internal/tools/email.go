package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// EmailClient sends mail through the hosted email service. Inbound mail
// arrives separately over the service's WebSocket feed.
type EmailClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewEmailClient(baseURL, token string) *EmailClient {
	return &EmailClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// OutboundEmail is one message to deliver.
type OutboundEmail struct {
	WorkspaceID string `json:"workspace_id"`
	To          string `json:"to"`
	Subject     string `json:"subject"`
	HTML        string `json:"html_content,omitempty"`
	Text        string `json:"text_content,omitempty"`
	EmailType   string `json:"email_type,omitempty"`
}

func (c *EmailClient) Send(ctx context.Context, mail OutboundEmail) error {
	payload, err := json.Marshal(mail)
	if err != nil {
		return fmt.Errorf("encode email: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("send email: status %d: %s", resp.StatusCode, body)
	}
	return nil
}

type sendEmailTool struct {
	client      *EmailClient
	workspaceID string
}

// NewSendEmailTool wraps the email service as a tool. The name carries a
// send verb, so every call goes through the approval screen.
func NewSendEmailTool(client *EmailClient, workspaceID string) Tool {
	return &sendEmailTool{client: client, workspaceID: workspaceID}
}

func (t *sendEmailTool) Name() string { return "send_email" }

func (t *sendEmailTool) Description() string {
	return "Send an email from this workspace's address. Use for outbound mail the user asked for."
}

func (t *sendEmailTool) Parameters() map[string]any {
	return objParams([]string{"to", "subject"}, map[string]any{
		"to":           strProp("Recipient address."),
		"subject":      strProp("Subject line."),
		"html_content": strProp("HTML body."),
		"text_content": strProp("Plain-text body."),
	})
}

func (t *sendEmailTool) Execute(ctx context.Context, args map[string]any) *Result {
	to := strArg(args, "to")
	subject := strArg(args, "subject")
	if to == "" || subject == "" {
		return ErrorResult("to and subject are required")
	}
	html, _ := args["html_content"].(string)
	text, _ := args["text_content"].(string)
	if html == "" && text == "" {
		return ErrorResult("provide html_content or text_content")
	}
	err := t.client.Send(ctx, OutboundEmail{
		WorkspaceID: t.workspaceID,
		To:          to,
		Subject:     subject,
		HTML:        html,
		Text:        text,
	})
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	return NewResult("email sent to " + to)
}
