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

package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tombee/atelier/pkg/trace"
)

// Client talks to the atelierd HTTP surface.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a daemon client for the given base address.
func NewClient(addr string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(addr, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// StartRunRequest mirrors the daemon's trigger body.
type StartRunRequest struct {
	PackID        string  `json:"packId"`
	TargetID      string  `json:"targetId,omitempty"`
	Threshold     float64 `json:"threshold,omitempty"`
	MaxIterations int     `json:"maxIterations,omitempty"`
}

// RunInfo mirrors the daemon's run responses.
type RunInfo struct {
	RunID         string  `json:"runId"`
	ProjectID     string  `json:"projectId"`
	Status        string  `json:"status"`
	StopReason    string  `json:"stopReason,omitempty"`
	Message       string  `json:"message,omitempty"`
	Iterations    int     `json:"iterations,omitempty"`
	BestIteration int     `json:"bestIteration,omitempty"`
	BestScore     float64 `json:"bestScore,omitempty"`
}

// StartRun triggers a refinement run.
func (c *Client) StartRun(projectID string, req StartRunRequest) (RunInfo, error) {
	var info RunInfo
	err := c.do("POST", "/projects/"+projectID+"/runs", req, &info)
	return info, err
}

// StopRun requests a cooperative stop of the project's active run.
func (c *Client) StopRun(projectID string) (RunInfo, error) {
	var info RunInfo
	err := c.do("DELETE", "/projects/"+projectID+"/runs", nil, &info)
	return info, err
}

// Run fetches a run by id.
func (c *Client) Run(runID string) (RunInfo, error) {
	var info RunInfo
	err := c.do("GET", "/runs/"+runID, nil, &info)
	return info, err
}

// ActiveRun fetches the project's current run.
func (c *Client) ActiveRun(projectID string) (RunInfo, error) {
	var info RunInfo
	err := c.do("GET", "/projects/"+projectID+"/runs", nil, &info)
	return info, err
}

func (c *Client) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s", e.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// wsURL converts the HTTP base into the subscribe endpoint URL.
func (c *Client) wsURL(projectID string) string {
	url := c.baseURL
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url + "/ws?projectId=" + projectID
}

// TraceTree subscribes to the project stream and folds the buffered
// frames into a tree. Reading stops once the stream goes quiet for
// settle, so a completed run renders fully and a live one renders its
// progress so far.
func (c *Client) TraceTree(projectID string, settle time.Duration) (*trace.Tree, string, error) {
	conn, _, err := websocket.DefaultDialer.Dial(c.wsURL(projectID), nil)
	if err != nil {
		return nil, "", fmt.Errorf("subscribing to %s: %w", projectID, err)
	}
	defer conn.Close()

	tree := trace.NewTree("")
	status := "running"
	for {
		conn.SetReadDeadline(time.Now().Add(settle))
		var frame trace.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			// Deadline or close: the buffered history is drained.
			return tree, status, nil
		}
		switch frame.Type {
		case trace.FrameRunStarted:
			tree = trace.NewTree("")
			status = "running"
		case trace.FrameRunFinished:
			status = frame.Status
		case trace.FrameAgentEvent:
			if frame.Event != nil {
				tree.Apply(*frame.Event)
			}
		}
	}
}
