// Copyright 2026 Atelier
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package tools

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Providers the email tool speaks natively. Anything else answers in
// mock mode.
const (
	emailProviderSMTP     = "smtp"
	emailProviderSendgrid = "sendgrid"
)

const sendgridEndpoint = "https://api.sendgrid.com/v3/mail/send"

// EmailTool sends mail through the tenant's configured provider.
type EmailTool struct {
	client *http.Client
}

// NewEmailTool creates the email tool. A nil client gets a 30s default
// timeout.
func NewEmailTool(client *http.Client) *EmailTool {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &EmailTool{client: client}
}

func (t *EmailTool) Name() string { return "email" }

func (t *EmailTool) Description() string {
	return "Envoie un email à un ou plusieurs destinataires: relances, propositions commerciales, newsletters."
}

func (t *EmailTool) RequiredConfig() []string {
	return []string{"email_provider", "api_key"}
}

// emailInput is one send: recipients, subject, body, and whether the
// body is HTML.
type emailInput struct {
	To      []string
	Subject string
	Body    string
	CC      []string
	BCC     []string
	HTML    bool
}

// recipients is the full envelope list: to, cc, bcc.
func (in emailInput) recipients() []string {
	out := make([]string, 0, len(in.To)+len(in.CC)+len(in.BCC))
	out = append(out, in.To...)
	out = append(out, in.CC...)
	out = append(out, in.BCC...)
	return out
}

func parseEmailInput(params map[string]interface{}) (emailInput, error) {
	input := emailInput{
		To:      stringList(params["to"]),
		Subject: stringParam(params, "subject"),
		Body:    stringParam(params, "body"),
		CC:      stringList(params["cc"]),
		BCC:     stringList(params["bcc"]),
		HTML:    boolParam(params, "html"),
	}
	if len(input.To) == 0 {
		return emailInput{}, Errorf(CodeTemplate, "to is required")
	}
	if input.Subject == "" {
		return emailInput{}, Errorf(CodeTemplate, "subject is required")
	}
	return input, nil
}

func (t *EmailTool) Run(ctx context.Context, req Request) (*Result, error) {
	input, err := parseEmailInput(req.Params)
	if err != nil {
		return nil, err
	}

	switch req.Config["email_provider"] {
	case emailProviderSMTP:
		return t.sendSMTP(ctx, req.Config, input)
	case emailProviderSendgrid:
		return t.sendSendgrid(ctx, req.Config, input)
	default:
		return mockSend(input), nil
	}
}

// mockSend mirrors a real send without network traffic, for tenants
// that have not configured a provider yet.
func mockSend(input emailInput) *Result {
	return &Result{Data: map[string]interface{}{
		"status":     "mock_sent",
		"message_id": "mock-" + shortHash(input.Subject),
		"recipients": input.To,
		"note":       "Email not actually sent (mock mode)",
	}}
}

func (t *EmailTool) sendSMTP(ctx context.Context, config map[string]string, input emailInput) (*Result, error) {
	host := config["smtp_host"]
	if host == "" {
		return nil, Errorf(CodeAuth, "smtp_host is not configured")
	}
	port := 587
	if raw := config["smtp_port"]; raw != "" {
		if p, err := strconv.Atoi(raw); err == nil && p > 0 {
			port = p
		}
	}
	user := config["smtp_user"]
	pass := config["smtp_pass"]
	from := config["from_email"]
	if from == "" {
		from = user
	}
	if from == "" {
		return nil, Errorf(CodeAuth, "from_email is not configured")
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), host)
	msg := buildMessage(from, messageID, input)

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, transportError(err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if port == 465 {
		// Implicit TLS. Other ports negotiate STARTTLS below.
		conn = tls.Client(conn, &tls.Config{ServerName: host})
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return nil, transportError(err)
	}
	defer client.Close()

	if port != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
				return nil, Errorf(CodeConnection, "starttls: %v", err)
			}
		}
	}
	if user != "" {
		if err := client.Auth(smtp.PlainAuth("", user, pass, host)); err != nil {
			return nil, Errorf(CodeAuth, "smtp auth rejected: %v", err)
		}
	}
	if err := client.Mail(from); err != nil {
		return nil, Errorf(CodeConnection, "smtp mail: %v", err)
	}
	for _, rcpt := range input.recipients() {
		if err := client.Rcpt(rcpt); err != nil {
			return nil, Errorf(CodeConnection, "smtp rcpt %s: %v", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return nil, Errorf(CodeConnection, "smtp data: %v", err)
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return nil, Errorf(CodeConnection, "smtp write: %v", err)
	}
	if err := w.Close(); err != nil {
		return nil, Errorf(CodeConnection, "smtp data close: %v", err)
	}
	_ = client.Quit()

	return &Result{Data: map[string]interface{}{
		"status":     "sent",
		"message_id": messageID,
		"recipients": input.To,
	}}, nil
}

// buildMessage assembles the RFC 5322 message with a Q-encoded subject
// so accented French subjects survive 7-bit relays.
func buildMessage(from, messageID string, input emailInput) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(input.To, ", "))
	if len(input.CC) > 0 {
		fmt.Fprintf(&b, "Cc: %s\r\n", strings.Join(input.CC, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", input.Subject))
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)
	b.WriteString("MIME-Version: 1.0\r\n")
	if input.HTML {
		b.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	} else {
		b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(input.Body)
	return []byte(b.String())
}

func (t *EmailTool) sendSendgrid(ctx context.Context, config map[string]string, input emailInput) (*Result, error) {
	apiKey := config["api_key"]
	if apiKey == "" {
		return nil, Errorf(CodeAuth, "api_key is not configured")
	}
	from := config["from_email"]
	if from == "" {
		return nil, Errorf(CodeAuth, "from_email is not configured")
	}

	personalization := map[string]interface{}{
		"to": emailAddresses(input.To),
	}
	if len(input.CC) > 0 {
		personalization["cc"] = emailAddresses(input.CC)
	}
	if len(input.BCC) > 0 {
		personalization["bcc"] = emailAddresses(input.BCC)
	}
	contentType := "text/plain"
	if input.HTML {
		contentType = "text/html"
	}
	payload := map[string]interface{}{
		"personalizations": []interface{}{personalization},
		"from":             map[string]interface{}{"email": from},
		"subject":          input.Subject,
		"content": []interface{}{
			map[string]interface{}{"type": contentType, "value": input.Body},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, Errorf(CodeUnknown, "encode payload: %v", err)
	}
	endpoint := config["api_base"]
	if endpoint == "" {
		endpoint = sendgridEndpoint
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, Errorf(CodeUnknown, "build request: %v", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, respBody)
	}

	return &Result{Data: map[string]interface{}{
		"status":     "sent",
		"message_id": resp.Header.Get("X-Message-Id"),
		"recipients": input.To,
	}}, nil
}

func emailAddresses(addrs []string) []interface{} {
	out := make([]interface{}, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, map[string]interface{}{"email": a})
	}
	return out
}
