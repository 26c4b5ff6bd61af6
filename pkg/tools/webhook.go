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
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// WebhookTool posts the interpolated params as JSON to a configured
// endpoint. It is the escape hatch for integrations the platform has
// no native tool for.
type WebhookTool struct {
	client *http.Client
}

// NewWebhookTool creates the webhook tool. A nil client gets a 30s
// default timeout.
func NewWebhookTool(client *http.Client) *WebhookTool {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebhookTool{client: client}
}

func (t *WebhookTool) Name() string { return "webhook" }

func (t *WebhookTool) Description() string {
	return "Envoie les données de l'action vers un webhook externe (Zapier, Make, n8n ou un endpoint maison)."
}

func (t *WebhookTool) RequiredConfig() []string {
	return []string{"webhook_url"}
}

func (t *WebhookTool) Run(ctx context.Context, req Request) (*Result, error) {
	endpoint := req.Config["webhook_url"]
	if endpoint == "" {
		return nil, Errorf(CodeAuth, "webhook_url is not configured")
	}

	payload := req.Params
	if payload == nil {
		payload = map[string]interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, Errorf(CodeUnknown, "encode payload: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, Errorf(CodeUnknown, "build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if secret := req.Config["webhook_secret"]; secret != "" {
		httpReq.Header.Set("X-Webhook-Token", secret)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, respBody)
	}

	data := map[string]interface{}{
		"status":      "delivered",
		"status_code": resp.StatusCode,
	}
	var decoded interface{}
	if len(respBody) > 0 && json.Valid(respBody) {
		_ = json.Unmarshal(respBody, &decoded)
		data["body"] = decoded
	} else if len(respBody) > 0 {
		data["body"] = string(respBody)
	}
	return &Result{Data: data}, nil
}
