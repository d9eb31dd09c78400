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

package trace

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

// FrameType identifies a subscriber frame.
type FrameType string

// Frame types of the subscribe protocol.
const (
	FrameAgentEvent  FrameType = "agentEvent"
	FrameRunStarted  FrameType = "runStarted"
	FrameRunFinished FrameType = "runFinished"
)

// Frame is one message on a subscriber stream.
type Frame struct {
	Type      FrameType `json:"type"`
	Event     *Event    `json:"event,omitempty"`
	RunID     string    `json:"runId,omitempty"`
	ProjectID string    `json:"projectId,omitempty"`
	Status    string    `json:"status,omitempty"`
}

// Appender persists events as they pass through the bus. Appenders run
// on the publishing goroutine; failures are logged and do not block
// fan-out.
type Appender interface {
	Append(ev Event) error
}

// Bus defaults.
const (
	// DefaultRetention keeps a project's buffered frames after its last
	// activity, so late subscribers can still replay a finished run.
	DefaultRetention = 30 * time.Minute

	// subscriberBuffer is the live headroom of a subscriber channel
	// beyond its replayed backlog. A subscriber that falls this far
	// behind is dropped rather than allowed to stall or reorder the
	// stream.
	subscriberBuffer = 256
)

// projectStream holds one project's buffered frames, live tree and
// subscribers. subs has its own lock because TTL eviction closes
// subscriber channels from the cache's goroutine, where taking the bus
// lock could deadlock against the cache's internal one.
type projectStream struct {
	frames []Frame
	tree   *Tree

	subMu sync.Mutex
	subs  map[string]chan Frame
}

// closeSubscriber detaches and closes one subscriber. Every close of a
// subscriber channel goes through this or closeAllSubscribers, so a
// channel can never be closed twice.
func (s *projectStream) closeSubscriber(id string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *projectStream) closeAllSubscribers() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	n := len(s.subs)
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	return n
}

// Bus is the trace fan-out point: it buffers each project's frame
// sequence, folds events into the project's tree, and broadcasts to
// subscribers in publish order.
type Bus struct {
	logger   *slog.Logger
	appender Appender

	mu      sync.Mutex
	streams *ttlcache.Cache[string, *projectStream]
	closed  bool
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithAppender attaches an event journal to the bus.
func WithAppender(a Appender) BusOption {
	return func(b *Bus) { b.appender = a }
}

// NewBus creates a bus. Retention governs how long an idle project's
// buffer survives; non-positive selects DefaultRetention.
func NewBus(logger *slog.Logger, retention time.Duration, opts ...BusOption) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if retention <= 0 {
		retention = DefaultRetention
	}

	b := &Bus{logger: logger}

	b.streams = ttlcache.New(
		ttlcache.WithTTL[string, *projectStream](retention),
		ttlcache.WithDisableTouchOnHit[string, *projectStream](),
	)
	b.streams.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *ttlcache.Item[string, *projectStream]) {
		stream := item.Value()
		stream.closeAllSubscribers()
		logger.Debug("trace stream expired", "project_id", item.Key(), "frames", len(stream.frames))
	})
	go b.streams.Start()

	for _, opt := range opts {
		opt(b)
	}
	return b
}

// stream fetches or creates a project's stream. Callers hold b.mu.
// Every access refreshes the retention TTL.
func (b *Bus) stream(projectID string) *projectStream {
	item := b.streams.Get(projectID)
	if item != nil {
		b.streams.Set(projectID, item.Value(), ttlcache.DefaultTTL)
		return item.Value()
	}
	s := &projectStream{
		tree: NewTree(""),
		subs: make(map[string]chan Frame),
	}
	b.streams.Set(projectID, s, ttlcache.DefaultTTL)
	return s
}

// Publish appends the event to the project's buffer, folds it into the
// tree, journals it, and broadcasts to subscribers.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	if b.appender != nil {
		if err := b.appender.Append(ev); err != nil {
			b.logger.Warn("trace journal append failed", "error", err, "event_id", ev.EventID)
		}
	}

	s := b.stream(ev.ProjectID)
	s.tree.Apply(ev)
	evCopy := ev
	b.broadcast(ev.ProjectID, s, Frame{Type: FrameAgentEvent, Event: &evCopy})
}

// RunStarted broadcasts a runStarted frame. It precedes every agent
// event of the run.
func (b *Bus) RunStarted(projectID, runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	s := b.stream(projectID)

	// A new run resets the project's tree; the frame buffer keeps the
	// previous run's history for replay.
	s.tree = NewTree("")
	b.broadcast(projectID, s, Frame{Type: FrameRunStarted, RunID: runID, ProjectID: projectID})
}

// RunFinished broadcasts a runFinished frame with the terminal status.
func (b *Bus) RunFinished(projectID, runID, status string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	s := b.stream(projectID)
	b.broadcast(projectID, s, Frame{Type: FrameRunFinished, RunID: runID, ProjectID: projectID, Status: status})
}

// broadcast appends the frame and fans it out. Callers hold b.mu.
func (b *Bus) broadcast(projectID string, s *projectStream, frame Frame) {
	s.frames = append(s.frames, frame)

	s.subMu.Lock()
	var stalled []string
	for id, ch := range s.subs {
		select {
		case ch <- frame:
		default:
			stalled = append(stalled, id)
		}
	}
	s.subMu.Unlock()

	for _, id := range stalled {
		// The subscriber stalled past its buffer; dropping it keeps
		// the ordering guarantee for everyone else.
		b.logger.Warn("dropping slow trace subscriber", "project_id", projectID, "subscriber", id)
		s.closeSubscriber(id)
	}
}

// Subscribe registers a project-scoped stream. The returned channel
// first yields the buffered frame sequence, then live frames, in
// publish order. The cancel function detaches the subscriber and
// closes the channel.
func (b *Bus) Subscribe(projectID string) (<-chan Frame, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Frame)
		close(ch)
		return ch, func() {}
	}

	s := b.stream(projectID)
	id := uuid.New().String()

	// Replay must land before any live frame: the channel is sized for
	// the entire retained backlog plus live headroom, and holding the
	// lock while seeding keeps Publish from interleaving.
	ch := make(chan Frame, len(s.frames)+subscriberBuffer)
	for _, frame := range s.frames {
		ch <- frame
	}
	s.subMu.Lock()
	s.subs[id] = ch
	s.subMu.Unlock()

	cancel := func() {
		b.mu.Lock()
		item := b.streams.Get(projectID)
		b.mu.Unlock()
		if item == nil {
			return
		}
		item.Value().closeSubscriber(id)
	}
	return ch, cancel
}

// Seed preloads a project's buffer with frames recovered from the
// journal. Used once at daemon startup, before any subscriber attaches.
func (b *Bus) Seed(projectID string, events []Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	s := b.stream(projectID)
	for _, ev := range events {
		s.tree.Apply(ev)
		evCopy := ev
		s.frames = append(s.frames, Frame{Type: FrameAgentEvent, Event: &evCopy})
	}
}

// Tree returns a deep copy of the project's current tree, or nil when
// the project has no buffered activity.
func (b *Bus) Tree(projectID string) *Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	item := b.streams.Get(projectID)
	if item == nil {
		return nil
	}
	return item.Value().tree.Clone()
}

// BestIteration returns the project's isBest iteration index, or -1.
func (b *Bus) BestIteration(projectID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	item := b.streams.Get(projectID)
	if item == nil {
		return -1
	}
	return item.Value().tree.BestIteration()
}

// Close stops retention and detaches every subscriber.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, item := range b.streams.Items() {
		item.Value().closeAllSubscribers()
	}
	b.streams.Stop()
}
