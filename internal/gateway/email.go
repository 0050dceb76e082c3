package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lucyhq/lucy/internal/tools"
)

// emailBackoffMax caps the reconnect delay for the inbound email socket.
const emailBackoffMax = 120 * time.Second

// inboundEmail is one message pushed by the email service.
type inboundEmail struct {
	WorkspaceID string `json:"workspace_id"`
	MessageID   string `json:"message_id"`
	From        string `json:"from"`
	To          string `json:"to"`
	Subject     string `json:"subject"`
	Text        string `json:"text"`
}

// runEmailListener keeps a WebSocket open to the email service, reconnecting
// with exponential backoff.
func (s *Server) runEmailListener(ctx context.Context) {
	backoff := time.Second
	for {
		err := s.listenEmail(ctx)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("email listener disconnected", "error", err, "retry_in", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > emailBackoffMax {
			backoff = emailBackoffMax
		}
	}
}

func (s *Server) listenEmail(ctx context.Context) error {
	wsURL := strings.Replace(s.cfg.Email.ListenerURL, "http", "ws", 1) + "/listen"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + s.cfg.Email.Token}},
	})
	if err != nil {
		return fmt.Errorf("dial email listener: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutting down")
	conn.SetReadLimit(4 << 20)
	slog.Info("email listener connected", "url", wsURL)

	for {
		var mail inboundEmail
		if err := wsjson.Read(ctx, conn, &mail); err != nil {
			return err
		}
		if s.deduper.IsDuplicate("email:" + mail.MessageID) {
			continue
		}
		go s.handleInboundEmail(ctx, mail)
	}
}

// handleInboundEmail runs the agent over the email body and replies by email.
func (s *Server) handleInboundEmail(ctx context.Context, mail inboundEmail) {
	if mail.WorkspaceID == "" || strings.TrimSpace(mail.Text) == "" {
		return
	}
	instruction := fmt.Sprintf(
		"You received an email from %s with the subject %q. Reply helpfully and concisely; your reply will be emailed back.\n\n%s",
		mail.From, mail.Subject, mail.Text)

	reply, err := s.RunInstruction(ctx, mail.WorkspaceID, instruction, "")
	if err != nil {
		slog.Error("email agent run failed", "workspace", mail.WorkspaceID, "error", err)
		return
	}
	if strings.TrimSpace(reply) == "" {
		return
	}

	client := tools.NewEmailClient(s.cfg.Email.ListenerURL, s.cfg.Email.Token)
	subject := mail.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}
	err = client.Send(ctx, tools.OutboundEmail{
		WorkspaceID: mail.WorkspaceID,
		To:          mail.From,
		Subject:     subject,
		Text:        reply,
		EmailType:   "reply",
	})
	if err != nil {
		slog.Error("email reply send failed", "workspace", mail.WorkspaceID, "error", err)
	}
}
