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

const (
	calendarGoogle         = "google"
	googleCalendarEndpoint = "https://www.googleapis.com/calendar/v3"

	// calendarTimeZone labels event times sent upstream. The platform
	// serves French businesses, so events render in their local zone.
	calendarTimeZone = "Europe/Paris"

	defaultReminderMinutes = 15
)

// CalendarTool creates and manages events in the tenant's calendar.
type CalendarTool struct {
	client *http.Client
}

// NewCalendarTool creates the calendar tool. A nil client gets a 30s
// default timeout.
func NewCalendarTool(client *http.Client) *CalendarTool {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &CalendarTool{client: client}
}

func (t *CalendarTool) Name() string { return "calendar" }

func (t *CalendarTool) Description() string {
	return "Gère les événements du calendrier: rendez-vous, disponibilités et rappels."
}

func (t *CalendarTool) RequiredConfig() []string {
	return []string{"calendar_provider", "oauth_token"}
}

func (t *CalendarTool) Run(ctx context.Context, req Request) (*Result, error) {
	action := stringParam(req.Params, "action")
	if action == "" {
		action = "create"
	}
	provider := req.Config["calendar_provider"]

	switch action {
	case "create":
		return t.createEvent(ctx, provider, req)
	case "list":
		return &Result{Data: map[string]interface{}{
			"status": "mock_list",
			"events": []interface{}{},
			"note":   "Event listing not implemented",
		}}, nil
	case "delete":
		return &Result{Data: map[string]interface{}{
			"status":   "mock_deleted",
			"event_id": stringParam(req.Params, "event_id"),
			"note":     "Event not actually deleted (mock mode)",
		}}, nil
	default:
		return nil, Errorf(CodeTemplate, "unknown action %q", action)
	}
}

func (t *CalendarTool) createEvent(ctx context.Context, provider string, req Request) (*Result, error) {
	title := stringParam(req.Params, "title")
	if title == "" {
		return nil, Errorf(CodeTemplate, "title is required")
	}
	startRaw := stringParam(req.Params, "start_time")
	if startRaw == "" {
		return nil, Errorf(CodeTemplate, "start_time is required")
	}
	start, err := parseEventTime(startRaw)
	if err != nil {
		return nil, Errorf(CodeTemplate, "invalid start_time %q: %v", startRaw, err)
	}
	end := start.Add(time.Hour)
	if endRaw := stringParam(req.Params, "end_time"); endRaw != "" {
		end, err = parseEventTime(endRaw)
		if err != nil {
			return nil, Errorf(CodeTemplate, "invalid end_time %q: %v", endRaw, err)
		}
	}
	attendees := stringList(req.Params["attendees"])

	if provider == calendarGoogle {
		return t.googleCreateEvent(ctx, req.Config, req.Params, title, start, end, attendees)
	}

	return &Result{Data: map[string]interface{}{
		"status":    "mock_created",
		"event_id":  "mock-event-" + shortHash(title),
		"title":     title,
		"start":     start.Format(time.RFC3339),
		"end":       end.Format(time.RFC3339),
		"attendees": attendees,
		"note":      "Event not actually created (mock mode)",
	}}, nil
}

func (t *CalendarTool) googleCreateEvent(ctx context.Context, config map[string]string, params map[string]interface{}, title string, start, end time.Time, attendees []string) (*Result, error) {
	token := config["oauth_token"]
	if token == "" {
		return nil, Errorf(CodeAuth, "oauth_token is not configured")
	}
	base := config["api_base"]
	if base == "" {
		base = googleCalendarEndpoint
	}

	event := map[string]interface{}{
		"summary":     title,
		"description": stringParam(params, "description"),
		"start":       map[string]interface{}{"dateTime": start.Format(time.RFC3339), "timeZone": calendarTimeZone},
		"end":         map[string]interface{}{"dateTime": end.Format(time.RFC3339), "timeZone": calendarTimeZone},
		"reminders": map[string]interface{}{
			"useDefault": false,
			"overrides": []interface{}{
				map[string]interface{}{
					"method":  "popup",
					"minutes": intParam(params, "reminder_minutes", defaultReminderMinutes),
				},
			},
		},
	}
	if len(attendees) > 0 {
		event["attendees"] = emailAddresses(attendees)
	}
	if location := stringParam(params, "location"); location != "" {
		event["location"] = location
	}

	body, err := json.Marshal(event)
	if err != nil {
		return nil, Errorf(CodeUnknown, "encode payload: %v", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		base+"/calendars/primary/events", bytes.NewReader(body))
	if err != nil {
		return nil, Errorf(CodeUnknown, "build request: %v", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
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
		ID       string `json:"id"`
		HTMLLink string `json:"htmlLink"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, Errorf(CodeUnknown, "decode response: %v", err)
	}
	return &Result{Data: map[string]interface{}{
		"status":    "created",
		"event_id":  decoded.ID,
		"html_link": decoded.HTMLLink,
		"title":     title,
		"start":     start.Format(time.RFC3339),
		"end":       end.Format(time.RFC3339),
	}}, nil
}

// parseEventTime accepts RFC 3339 stamps and offset-less local stamps.
func parseEventTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02T15:04:05", s)
}
