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

// Package rpc exposes the trace bus over WebSocket. A client connects
// to /ws?projectId=<id> and receives the project's buffered frame
// sequence followed by live frames, in publish order.
package rpc

import (
	"encoding/json"
	"fmt"
)

// ClientMessage is an inbound frame from a subscriber. Only "ping" is
// defined; anything else draws an error reply.
type ClientMessage struct {
	Type string `json:"type"`
}

// ErrorFrame is the server's out-of-band reply channel. Pings are
// answered here too, with code "pong".
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// Error frame codes.
const (
	CodePong        = "pong"
	CodeUnsupported = "unsupported"
)

func pongFrame() ErrorFrame {
	return ErrorFrame{Type: "error", Code: CodePong}
}

func unsupportedFrame(msgType string) ErrorFrame {
	return ErrorFrame{
		Type:    "error",
		Code:    CodeUnsupported,
		Message: fmt.Sprintf("unsupported message type %q", msgType),
	}
}

// parseClientMessage decodes an inbound text frame. Malformed JSON is
// reported as an unsupported message rather than closing the stream.
func parseClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, err
	}
	return msg, nil
}
