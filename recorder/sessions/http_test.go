/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package sessions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"

	"stash.kopano.io/kwm/kwmrecorder/internal/history"
	"stash.kopano.io/kwm/kwmrecorder/internal/recording"
)

func newTestRouter(m *Manager) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/sessions", m.HTTPSessionsHandler)
	router.HandleFunc("/sessions/{identity}", m.HTTPSessionsHandler)
	router.HandleFunc("/recordings", m.HTTPRecordingsHandler)
	return router
}

func doRequest(t *testing.T, handler http.Handler, path string, wantStatus int) map[string]interface{} {
	t.Helper()

	req, err := http.NewRequest("GET", path, nil)
	if err != nil {
		t.Fatal(err)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != wantStatus {
		t.Fatalf("handler returned wrong status code: got %v want %v", status, wantStatus)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return body
}

func TestHTTPSessionsHandler(t *testing.T) {
	tm := newTestManager(t, nil)
	router := newTestRouter(tm.Manager)

	tm.connector.send(
		trackSubscribed("bob", recording.TrackKindVideo),
		trackSubscribed("alice", recording.TrackKindAudio),
	)
	waitForSessionState(t, tm.Manager, "bob", recording.StateMonitoring)
	waitForSessionState(t, tm.Manager, "alice", recording.StateAwaitingVideo)

	body := doRequest(t, router, "/sessions", http.StatusOK)
	if body["@odata.context"] != "/sessions" {
		t.Errorf("unexpected context: %v", body["@odata.context"])
	}
	values, ok := body["values"].([]interface{})
	if !ok || len(values) != 2 {
		t.Fatalf("unexpected values: %v", body["values"])
	}
	first := values[0].(map[string]interface{})
	if first["identity"] != "alice" || first["state"] != "awaiting_video" {
		t.Errorf("unexpected first session: %v", first)
	}
	second := values[1].(map[string]interface{})
	if second["identity"] != "bob" || second["state"] != "monitoring" {
		t.Errorf("unexpected second session: %v", second)
	}
	job, ok := second["job"].(map[string]interface{})
	if !ok || job["id"] != "EG_TR_v_bob" {
		t.Errorf("unexpected job: %v", second["job"])
	}

	body = doRequest(t, router, "/sessions/bob", http.StatusOK)
	value, ok := body["value"].(map[string]interface{})
	if !ok || value["identity"] != "bob" {
		t.Errorf("unexpected item: %v", body)
	}

	body = doRequest(t, router, "/sessions/carol", http.StatusNotFound)
	if body["code"] != "ErrorMessageSessionNotfound" {
		t.Errorf("unexpected error: %v", body)
	}
}

func TestHTTPRecordingsHandlerDisabled(t *testing.T) {
	tm := newTestManager(t, nil)

	body := doRequest(t, newTestRouter(tm.Manager), "/recordings", http.StatusNotFound)
	if body["code"] != "ErrorMessageHistoryNotEnabled" {
		t.Errorf("unexpected error: %v", body)
	}
}

func TestHTTPRecordingsHandler(t *testing.T) {
	store, err := history.Open(context.Background(), filepath.Join(t.TempDir(), "history.db"), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		store.Close()
	})

	tm := newTestManager(t, store)
	router := newTestRouter(tm.Manager)

	tm.connector.send(trackSubscribed("alice", recording.TrackKindVideo))
	waitForSessionState(t, tm.Manager, "alice", recording.StateMonitoring)
	tm.connector.send(participantDisconnected("alice"))

	var values []interface{}
	waitFor(t, "history record", func() bool {
		body := doRequest(t, router, "/recordings", http.StatusOK)
		values, _ = body["values"].([]interface{})
		return len(values) == 1
	})

	record := values[0].(map[string]interface{})
	if record["identity"] != "alice" || record["state"] != "stopped" || record["job_id"] != "EG_TR_v_alice" {
		t.Errorf("unexpected record: %v", record)
	}

	doRequest(t, router, "/recordings?$top=1", http.StatusOK)
	body := doRequest(t, router, "/recordings?$top=x", http.StatusBadRequest)
	if body["code"] != "ErrorUnspecifiedError" {
		t.Errorf("unexpected error: %v", body)
	}
}
