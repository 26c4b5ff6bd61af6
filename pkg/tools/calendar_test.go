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
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalendarToolMockCreate(t *testing.T) {
	tool := NewCalendarTool(nil)
	res, err := tool.Run(context.Background(), Request{
		Config: map[string]string{},
		Params: map[string]interface{}{
			"action":     "create",
			"title":      "Point mensuel",
			"start_time": "2026-09-01T14:00:00",
			"attendees":  []interface{}{"jean@example.com"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "mock_created", res.Data["status"])
	assert.Equal(t, "Point mensuel", res.Data["title"])
	assert.Regexp(t, "^mock-event-[0-9a-f]{8}$", res.Data["event_id"])
	assert.Equal(t, "2026-09-01T14:00:00Z", res.Data["start"])
	// End defaults to one hour after the start.
	assert.Equal(t, "2026-09-01T15:00:00Z", res.Data["end"])
	assert.Equal(t, []string{"jean@example.com"}, res.Data["attendees"])
}

func TestCalendarToolExplicitEnd(t *testing.T) {
	tool := NewCalendarTool(nil)
	res, err := tool.Run(context.Background(), Request{
		Config: map[string]string{},
		Params: map[string]interface{}{
			"title":      "Atelier stratégie",
			"start_time": "2026-09-01T14:00:00+02:00",
			"end_time":   "2026-09-01T16:30:00+02:00",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "2026-09-01T14:00:00+02:00", res.Data["start"])
	assert.Equal(t, "2026-09-01T16:30:00+02:00", res.Data["end"])
}

func TestCalendarToolCreateValidation(t *testing.T) {
	tool := NewCalendarTool(nil)
	tests := []struct {
		name    string
		params  map[string]interface{}
		wantErr string
	}{
		{
			name:    "missing title",
			params:  map[string]interface{}{"start_time": "2026-09-01T14:00:00"},
			wantErr: "title is required",
		},
		{
			name:    "missing start",
			params:  map[string]interface{}{"title": "Point mensuel"},
			wantErr: "start_time is required",
		},
		{
			name:    "unparseable start",
			params:  map[string]interface{}{"title": "Point mensuel", "start_time": "demain 14h"},
			wantErr: "invalid start_time",
		},
		{
			name: "unparseable end",
			params: map[string]interface{}{
				"title":      "Point mensuel",
				"start_time": "2026-09-01T14:00:00",
				"end_time":   "en fin de journée",
			},
			wantErr: "invalid end_time",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tool.Run(context.Background(), Request{
				Config: map[string]string{},
				Params: tt.params,
			})
			var terr *Error
			require.ErrorAs(t, err, &terr)
			assert.Equal(t, CodeTemplate, terr.Code)
			assert.Contains(t, terr.Message, tt.wantErr)
		})
	}
}

func TestCalendarToolGoogleCreate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/calendars/primary/events", r.URL.Path)
		assert.Equal(t, "Bearer ya29.token", r.Header.Get("Authorization"))

		var event struct {
			Summary     string `json:"summary"`
			Description string `json:"description"`
			Location    string `json:"location"`
			Start       struct {
				DateTime string `json:"dateTime"`
				TimeZone string `json:"timeZone"`
			} `json:"start"`
			End struct {
				DateTime string `json:"dateTime"`
				TimeZone string `json:"timeZone"`
			} `json:"end"`
			Reminders struct {
				UseDefault bool `json:"useDefault"`
				Overrides  []struct {
					Method  string `json:"method"`
					Minutes int    `json:"minutes"`
				} `json:"overrides"`
			} `json:"reminders"`
			Attendees []struct {
				Email string `json:"email"`
			} `json:"attendees"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&event))

		assert.Equal(t, "Rendez-vous client", event.Summary)
		assert.Equal(t, "Préparation du devis", event.Description)
		assert.Equal(t, "Lyon", event.Location)
		assert.Equal(t, "2026-09-01T14:00:00Z", event.Start.DateTime)
		assert.Equal(t, "Europe/Paris", event.Start.TimeZone)
		assert.Equal(t, "Europe/Paris", event.End.TimeZone)
		assert.False(t, event.Reminders.UseDefault)
		require.Len(t, event.Reminders.Overrides, 1)
		assert.Equal(t, "popup", event.Reminders.Overrides[0].Method)
		assert.Equal(t, 30, event.Reminders.Overrides[0].Minutes)
		require.Len(t, event.Attendees, 1)
		assert.Equal(t, "jean@example.com", event.Attendees[0].Email)

		fmt.Fprint(w, `{"id": "evt-42", "htmlLink": "https://calendar.google.com/event?eid=abc"}`)
	}))
	defer server.Close()

	tool := NewCalendarTool(server.Client())
	res, err := tool.Run(context.Background(), Request{
		TenantID: "tenant-1",
		Config: map[string]string{
			"calendar_provider": "google",
			"oauth_token":       "ya29.token",
			"api_base":          server.URL,
		},
		Params: map[string]interface{}{
			"action":           "create",
			"title":            "Rendez-vous client",
			"description":      "Préparation du devis",
			"location":         "Lyon",
			"start_time":       "2026-09-01T14:00:00Z",
			"reminder_minutes": 30,
			"attendees":        "jean@example.com",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "created", res.Data["status"])
	assert.Equal(t, "evt-42", res.Data["event_id"])
	assert.Equal(t, "https://calendar.google.com/event?eid=abc", res.Data["html_link"])
	assert.Equal(t, "2026-09-01T14:00:00Z", res.Data["start"])
	assert.Equal(t, "2026-09-01T15:00:00Z", res.Data["end"])
}

func TestCalendarToolGoogleMissingToken(t *testing.T) {
	tool := NewCalendarTool(nil)
	_, err := tool.Run(context.Background(), Request{
		Config: map[string]string{"calendar_provider": "google"},
		Params: map[string]interface{}{"title": "Point", "start_time": "2026-09-01T14:00:00"},
	})

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, CodeAuth, terr.Code)
	assert.Contains(t, terr.Message, "oauth_token")
}

func TestCalendarToolListAndDelete(t *testing.T) {
	tool := NewCalendarTool(nil)

	res, err := tool.Run(context.Background(), Request{
		Config: map[string]string{},
		Params: map[string]interface{}{"action": "list"},
	})
	require.NoError(t, err)
	assert.Equal(t, "mock_list", res.Data["status"])
	assert.Equal(t, []interface{}{}, res.Data["events"])

	res, err = tool.Run(context.Background(), Request{
		Config: map[string]string{},
		Params: map[string]interface{}{"action": "delete", "event_id": "evt-42"},
	})
	require.NoError(t, err)
	assert.Equal(t, "mock_deleted", res.Data["status"])
	assert.Equal(t, "evt-42", res.Data["event_id"])
}

func TestCalendarToolUnknownAction(t *testing.T) {
	tool := NewCalendarTool(nil)
	_, err := tool.Run(context.Background(), Request{
		Config: map[string]string{},
		Params: map[string]interface{}{"action": "reschedule"},
	})

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, CodeTemplate, terr.Code)
}

func TestParseEventTime(t *testing.T) {
	ts, err := parseEventTime("2026-09-01T14:00:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, "2026-09-01T14:00:00+02:00", ts.Format(time.RFC3339))

	// Offset-less stamps are taken as UTC.
	ts, err = parseEventTime("2026-09-01T14:00:00")
	require.NoError(t, err)
	assert.Equal(t, "2026-09-01T14:00:00Z", ts.Format(time.RFC3339))

	_, err = parseEventTime("le 1er septembre")
	assert.Error(t, err)
}
