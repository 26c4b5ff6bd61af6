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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEmailInput(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]interface{}
		wantErr string
	}{
		{
			name:    "missing recipient",
			params:  map[string]interface{}{"subject": "Relance"},
			wantErr: "to is required",
		},
		{
			name:    "missing subject",
			params:  map[string]interface{}{"to": "client@example.com"},
			wantErr: "subject is required",
		},
		{
			name: "single recipient string",
			params: map[string]interface{}{
				"to":      "client@example.com",
				"subject": "Relance",
			},
		},
		{
			name: "recipient list from json",
			params: map[string]interface{}{
				"to":      []interface{}{"a@example.com", "b@example.com"},
				"cc":      "compta@example.com",
				"subject": "Relance",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input, err := parseEmailInput(tt.params)
			if tt.wantErr != "" {
				require.Error(t, err)
				var terr *Error
				require.ErrorAs(t, err, &terr)
				assert.Equal(t, CodeTemplate, terr.Code)
				assert.Contains(t, terr.Message, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, input.To)
		})
	}
}

func TestEmailInputRecipients(t *testing.T) {
	input := emailInput{
		To:  []string{"a@example.com"},
		CC:  []string{"b@example.com"},
		BCC: []string{"c@example.com"},
	}
	assert.Equal(t, []string{"a@example.com", "b@example.com", "c@example.com"}, input.recipients())
}

func TestEmailToolMockSend(t *testing.T) {
	tool := NewEmailTool(nil)
	req := Request{
		TenantID: "tenant-1",
		// No provider configured means mock mode.
		Config: map[string]string{},
		Params: map[string]interface{}{
			"to":      "client@example.com",
			"subject": "Relance facture impayée",
			"body":    "Bonjour, votre facture reste en attente.",
		},
	}

	res, err := tool.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "mock_sent", res.Data["status"])
	assert.Equal(t, []string{"client@example.com"}, res.Data["recipients"])
	assert.Equal(t, "Email not actually sent (mock mode)", res.Data["note"])

	id, _ := res.Data["message_id"].(string)
	assert.Regexp(t, "^mock-[0-9a-f]{8}$", id)

	// Same subject, same mock id.
	again, err := tool.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, id, again.Data["message_id"])
}

func TestEmailToolUnknownProviderFallsBackToMock(t *testing.T) {
	tool := NewEmailTool(nil)
	res, err := tool.Run(context.Background(), Request{
		Config: map[string]string{"email_provider": "mailjet"},
		Params: map[string]interface{}{"to": "a@example.com", "subject": "Test"},
	})
	require.NoError(t, err)
	assert.Equal(t, "mock_sent", res.Data["status"])
}

func TestEmailToolSendgrid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer sg-key-123", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var payload struct {
			Personalizations []struct {
				To []struct {
					Email string `json:"email"`
				} `json:"to"`
				CC []struct {
					Email string `json:"email"`
				} `json:"cc"`
			} `json:"personalizations"`
			From struct {
				Email string `json:"email"`
			} `json:"from"`
			Subject string `json:"subject"`
			Content []struct {
				Type  string `json:"type"`
				Value string `json:"value"`
			} `json:"content"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		require.Len(t, payload.Personalizations, 1)
		require.Len(t, payload.Personalizations[0].To, 1)
		assert.Equal(t, "client@example.com", payload.Personalizations[0].To[0].Email)
		require.Len(t, payload.Personalizations[0].CC, 1)
		assert.Equal(t, "compta@example.com", payload.Personalizations[0].CC[0].Email)
		assert.Equal(t, "noreply@atelier.example", payload.From.Email)
		assert.Equal(t, "Proposition commerciale", payload.Subject)
		require.Len(t, payload.Content, 1)
		assert.Equal(t, "text/html", payload.Content[0].Type)
		assert.Equal(t, "<p>Bonjour</p>", payload.Content[0].Value)

		w.Header().Set("X-Message-Id", "sg-msg-789")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	tool := NewEmailTool(server.Client())
	res, err := tool.Run(context.Background(), Request{
		TenantID: "tenant-1",
		Config: map[string]string{
			"email_provider": "sendgrid",
			"api_key":        "sg-key-123",
			"from_email":     "noreply@atelier.example",
			"api_base":       server.URL,
		},
		Params: map[string]interface{}{
			"to":      "client@example.com",
			"cc":      "compta@example.com",
			"subject": "Proposition commerciale",
			"body":    "<p>Bonjour</p>",
			"html":    true,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "sent", res.Data["status"])
	assert.Equal(t, "sg-msg-789", res.Data["message_id"])
	assert.Equal(t, []string{"client@example.com"}, res.Data["recipients"])
}

func TestEmailToolSendgridMissingConfig(t *testing.T) {
	tool := NewEmailTool(nil)
	params := map[string]interface{}{"to": "a@example.com", "subject": "Test"}

	_, err := tool.Run(context.Background(), Request{
		Config: map[string]string{"email_provider": "sendgrid"},
		Params: params,
	})
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, CodeAuth, terr.Code)
	assert.Contains(t, terr.Message, "api_key")

	_, err = tool.Run(context.Background(), Request{
		Config: map[string]string{"email_provider": "sendgrid", "api_key": "sg-key"},
		Params: params,
	})
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, CodeAuth, terr.Code)
	assert.Contains(t, terr.Message, "from_email")
}

func TestEmailToolSendgridUpstreamErrors(t *testing.T) {
	tests := []struct {
		status    int
		code      string
		retryable bool
	}{
		{status: http.StatusUnauthorized, code: CodeAuth},
		{status: http.StatusTooManyRequests, code: CodeRateLimit, retryable: true},
		{status: http.StatusServiceUnavailable, code: CodeConnection, retryable: true},
	}
	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "refus", tt.status)
		}))

		tool := NewEmailTool(server.Client())
		_, err := tool.Run(context.Background(), Request{
			Config: map[string]string{
				"email_provider": "sendgrid",
				"api_key":        "sg-key",
				"from_email":     "noreply@atelier.example",
				"api_base":       server.URL,
			},
			Params: map[string]interface{}{"to": "a@example.com", "subject": "Test"},
		})
		server.Close()

		var terr *Error
		require.ErrorAs(t, err, &terr, "status %d", tt.status)
		assert.Equal(t, tt.code, terr.Code, "status %d", tt.status)
		assert.Equal(t, tt.retryable, terr.Retryable, "status %d", tt.status)
	}
}

func TestEmailToolSMTPMissingConfig(t *testing.T) {
	tool := NewEmailTool(nil)
	params := map[string]interface{}{"to": "a@example.com", "subject": "Test"}

	_, err := tool.Run(context.Background(), Request{
		Config: map[string]string{"email_provider": "smtp"},
		Params: params,
	})
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, CodeAuth, terr.Code)
	assert.Contains(t, terr.Message, "smtp_host")

	// A host without credentials still needs a sender address.
	_, err = tool.Run(context.Background(), Request{
		Config: map[string]string{"email_provider": "smtp", "smtp_host": "mail.example.com"},
		Params: params,
	})
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, CodeAuth, terr.Code)
	assert.Contains(t, terr.Message, "from_email")
}

func TestEmailToolSMTPConnectionRefused(t *testing.T) {
	tool := NewEmailTool(nil)
	_, err := tool.Run(context.Background(), Request{
		Config: map[string]string{
			"email_provider": "smtp",
			"smtp_host":      "127.0.0.1",
			"smtp_port":      "1",
			"from_email":     "noreply@atelier.example",
		},
		Params: map[string]interface{}{"to": "a@example.com", "subject": "Test"},
	})

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, CodeConnection, terr.Code)
	assert.True(t, terr.Retryable)
}

func TestBuildMessage(t *testing.T) {
	msg := string(buildMessage("noreply@atelier.example", "<id-1@mail.example.com>", emailInput{
		To:      []string{"a@example.com", "b@example.com"},
		CC:      []string{"compta@example.com"},
		Subject: "Relance facture impayée",
		Body:    "Bonjour,\r\nvotre facture reste en attente.",
	}))

	head, body, found := strings.Cut(msg, "\r\n\r\n")
	require.True(t, found)
	assert.Contains(t, head, "From: noreply@atelier.example\r\n")
	assert.Contains(t, head, "To: a@example.com, b@example.com\r\n")
	assert.Contains(t, head, "Cc: compta@example.com\r\n")
	assert.Contains(t, head, "Message-ID: <id-1@mail.example.com>\r\n")
	assert.Contains(t, head, "Content-Type: text/plain; charset=utf-8")
	// Accented subjects get Q-encoded.
	assert.Contains(t, head, "Subject: =?utf-8?q?")
	assert.Equal(t, "Bonjour,\r\nvotre facture reste en attente.", body)
}

func TestBuildMessageHTMLAndPlainSubject(t *testing.T) {
	msg := string(buildMessage("noreply@atelier.example", "<id-2@mail.example.com>", emailInput{
		To:      []string{"a@example.com"},
		Subject: "Newsletter",
		Body:    "<p>Bonjour</p>",
		HTML:    true,
	}))
	assert.Contains(t, msg, "Content-Type: text/html; charset=utf-8")
	// ASCII subjects pass through untouched.
	assert.Contains(t, msg, "Subject: Newsletter\r\n")
	assert.NotContains(t, msg, "Cc:")
}
