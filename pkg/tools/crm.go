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
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CRM backends the tool speaks natively. Anything else answers in mock
// mode.
const (
	crmHubspot   = "hubspot"
	crmPipedrive = "pipedrive"
)

const hubspotEndpoint = "https://api.hubapi.com"

// CRMTool reads and writes contacts in the tenant's CRM.
type CRMTool struct {
	client *http.Client
}

// NewCRMTool creates the CRM tool. A nil client gets a 30s default
// timeout.
func NewCRMTool(client *http.Client) *CRMTool {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &CRMTool{client: client}
}

func (t *CRMTool) Name() string { return "crm" }

func (t *CRMTool) Description() string {
	return "Interagit avec le CRM pour gérer contacts, deals et pipelines."
}

func (t *CRMTool) RequiredConfig() []string {
	return []string{"crm_type", "api_key"}
}

func (t *CRMTool) Run(ctx context.Context, req Request) (*Result, error) {
	action := stringParam(req.Params, "action")
	if action == "" {
		action = "get"
	}
	crmType := req.Config["crm_type"]

	switch action {
	case "get":
		return t.getContact(ctx, crmType, req)
	case "create":
		return t.createContact(ctx, crmType, req)
	case "update":
		return mockContactUpdate(req.Params), nil
	case "search":
		return mockContactSearch(), nil
	default:
		return nil, Errorf(CodeTemplate, "unknown action %q", action)
	}
}

func (t *CRMTool) getContact(ctx context.Context, crmType string, req Request) (*Result, error) {
	contactID := stringParam(req.Params, "contact_id")
	email := stringParam(req.Params, "email")

	switch crmType {
	case crmHubspot:
		return t.hubspotGetContact(ctx, req.Config, contactID, email)
	case crmPipedrive:
		return pipedriveStub(), nil
	default:
		return mockContactFound(contactID, email), nil
	}
}

func (t *CRMTool) createContact(ctx context.Context, crmType string, req Request) (*Result, error) {
	switch crmType {
	case crmHubspot:
		return t.hubspotCreateContact(ctx, req.Config, req.Params)
	case crmPipedrive:
		return pipedriveStub(), nil
	default:
		email := stringParam(req.Params, "email")
		return &Result{Data: map[string]interface{}{
			"status":     "mock_created",
			"contact_id": "mock-" + shortHash(email),
			"email":      email,
			"name":       stringParam(req.Params, "name"),
			"note":       "Contact not actually created (mock mode)",
		}}, nil
	}
}

func mockContactFound(contactID, email string) *Result {
	if contactID == "" {
		contactID = "mock-123"
	}
	if email == "" {
		email = "mock@example.com"
	}
	return &Result{Data: map[string]interface{}{
		"status": "mock_found",
		"contact": map[string]interface{}{
			"id":      contactID,
			"email":   email,
			"name":    "Mock Contact",
			"company": "Mock Company",
			"status":  "lead",
		},
		"note": "Contact data is mock",
	}}
}

func mockContactUpdate(params map[string]interface{}) *Result {
	return &Result{Data: map[string]interface{}{
		"status":     "mock_updated",
		"contact_id": stringParam(params, "contact_id"),
		"note":       "Contact not actually updated (mock mode)",
	}}
}

func mockContactSearch() *Result {
	return &Result{Data: map[string]interface{}{
		"status":  "mock_search",
		"results": []interface{}{},
		"total":   0,
		"note":    "Search not implemented (mock mode)",
	}}
}

func pipedriveStub() *Result {
	return &Result{Data: map[string]interface{}{
		"status": "not_implemented",
		"note":   "Pipedrive integration coming soon",
	}}
}

func (t *CRMTool) hubspotGetContact(ctx context.Context, config map[string]string, contactID, email string) (*Result, error) {
	apiKey := config["api_key"]
	if apiKey == "" {
		return nil, Errorf(CodeAuth, "api_key is not configured")
	}
	base := config["api_base"]
	if base == "" {
		base = hubspotEndpoint
	}

	var endpoint string
	switch {
	case contactID != "":
		endpoint = fmt.Sprintf("%s/crm/v3/objects/contacts/%s", base, contactID)
	case email != "":
		endpoint = fmt.Sprintf("%s/crm/v3/objects/contacts/%s", base, url.PathEscape(email))
	default:
		return nil, Errorf(CodeTemplate, "contact_id or email is required")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, Errorf(CodeUnknown, "build request: %v", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	q := httpReq.URL.Query()
	q.Set("properties", "email,firstname,lastname,company,phone,hs_lead_status")
	if contactID == "" {
		q.Set("idProperty", "email")
	}
	httpReq.URL.RawQuery = q.Encode()

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, respBody)
	}

	var decoded struct {
		ID         string            `json:"id"`
		Properties map[string]string `json:"properties"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, Errorf(CodeUnknown, "decode response: %v", err)
	}
	props := decoded.Properties
	return &Result{Data: map[string]interface{}{
		"status": "found",
		"contact": map[string]interface{}{
			"id":      decoded.ID,
			"email":   props["email"],
			"name":    strings.TrimSpace(props["firstname"] + " " + props["lastname"]),
			"company": props["company"],
			"phone":   props["phone"],
			"status":  props["hs_lead_status"],
		},
	}}, nil
}

func (t *CRMTool) hubspotCreateContact(ctx context.Context, config map[string]string, params map[string]interface{}) (*Result, error) {
	apiKey := config["api_key"]
	if apiKey == "" {
		return nil, Errorf(CodeAuth, "api_key is not configured")
	}
	base := config["api_base"]
	if base == "" {
		base = hubspotEndpoint
	}

	email := stringParam(params, "email")
	name := stringParam(params, "name")
	firstname, lastname := splitName(name)

	properties := map[string]interface{}{
		"email":     email,
		"firstname": firstname,
		"lastname":  lastname,
	}
	if company := stringParam(params, "company"); company != "" {
		properties["company"] = company
	}
	if phone := stringParam(params, "phone"); phone != "" {
		properties["phone"] = phone
	}
	if status := stringParam(params, "status"); status != "" {
		properties["hs_lead_status"] = status
	}
	if notes := stringParam(params, "notes"); notes != "" {
		properties["notes"] = notes
	}
	if custom, ok := params["custom_fields"].(map[string]interface{}); ok {
		for k, v := range custom {
			properties[k] = v
		}
	}

	body, err := json.Marshal(map[string]interface{}{"properties": properties})
	if err != nil {
		return nil, Errorf(CodeUnknown, "encode payload: %v", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		base+"/crm/v3/objects/contacts", bytes.NewReader(body))
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

	var decoded struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, Errorf(CodeUnknown, "decode response: %v", err)
	}
	return &Result{Data: map[string]interface{}{
		"status":     "created",
		"contact_id": decoded.ID,
		"email":      email,
		"name":       name,
	}}, nil
}

// splitName splits a display name into HubSpot's first/last pair.
func splitName(name string) (string, string) {
	parts := strings.SplitN(strings.TrimSpace(name), " ", 2)
	if len(parts) < 2 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}
