// Copyright 2026 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()

	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestRPCMiddleware_Success(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})
	mw := NewRPCMiddleware(logger)

	req := &RPCRequest{
		MessageType: "subscribe",
		ProjectID:   "proj-1",
		RemoteAddr:  "127.0.0.1:52211",
	}

	err := mw.Handler(req, func() error { return nil })
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}

	if entries[0]["event"] != "rpc_request" {
		t.Errorf("first entry should be rpc_request, got %v", entries[0]["event"])
	}
	if entries[0][ProjectIDKey] != "proj-1" {
		t.Errorf("request entry missing project_id, got %v", entries[0])
	}
	if entries[1]["event"] != "rpc_response" {
		t.Errorf("second entry should be rpc_response, got %v", entries[1]["event"])
	}
	if entries[1]["success"] != true {
		t.Errorf("response should be success, got %v", entries[1]["success"])
	}
}

func TestRPCMiddleware_Failure(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})
	mw := NewRPCMiddleware(logger)

	req := &RPCRequest{
		MessageType: "subscribe",
		RemoteAddr:  "127.0.0.1:52212",
	}

	wantErr := errors.New("unknown project")
	err := mw.Handler(req, func() error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("middleware should pass the handler error through, got %v", err)
	}

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}

	resp := entries[1]
	if resp["success"] != false {
		t.Errorf("response should be failure, got %v", resp["success"])
	}
	if resp["error"] != "unknown project" {
		t.Errorf("response should carry error message, got %v", resp["error"])
	}
	if resp["level"] != "ERROR" {
		t.Errorf("failed responses log at error level, got %v", resp["level"])
	}
}

func TestLogRPCRequest_Metadata(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	LogRPCRequest(logger, &RPCRequest{
		MessageType:   "ping",
		CorrelationID: "corr-9",
		RemoteAddr:    "127.0.0.1:52213",
		Metadata:      map[string]interface{}{"frames_sent": 12},
	})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if entries[0]["correlation_id"] != "corr-9" {
		t.Errorf("missing correlation id, got %v", entries[0])
	}
	if entries[0]["frames_sent"] != float64(12) {
		t.Errorf("missing metadata field, got %v", entries[0])
	}
}
