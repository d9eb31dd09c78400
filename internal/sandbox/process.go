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

package sandbox

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/tombee/atelier/internal/log"
)

// Status is a preview process's lifecycle state.
type Status string

// Preview process states.
const (
	StatusInstalling Status = "installing"
	StatusStarting   Status = "starting"
	StatusReady      Status = "ready"
	StatusStopped    Status = "stopped"
	StatusError      Status = "error"
)

// terminal reports whether the state can never progress to ready.
func (s Status) terminal() bool {
	return s == StatusStopped || s == StatusError
}

// readySentinels mark the dev server as serving. Any one suffices.
var readySentinels = []string{"Ready in", "✓ Ready", "Local:"}

// logTailBytes bounds how much trailing output a process keeps for
// error reporting.
const logTailBytes = 4 * 1024

// tailBuffer keeps the last logTailBytes of subprocess output.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - logTailBytes; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// process is one tracked preview subprocess. Mutable fields are guarded
// by mu; the manager holds its own lock only for map membership.
type process struct {
	projectID string

	// iteration is the snapshot index for historical previews, -1 for
	// the current preview.
	iteration int

	dir  string
	port int

	mu         sync.Mutex
	status     Status
	errMsg     string
	pid        int
	cmd        *exec.Cmd
	startedAt  time.Time
	lastAccess time.Time

	stopOnce  sync.Once
	stopCh    chan struct{}
	tail      *tailBuffer
	gaugeDone bool
}

func newProcess(projectID string, iteration int, dir string, port int) *process {
	now := time.Now()
	return &process{
		projectID:  projectID,
		iteration:  iteration,
		dir:        dir,
		port:       port,
		status:     StatusInstalling,
		startedAt:  now,
		lastAccess: now,
		stopCh:     make(chan struct{}),
		tail:       &tailBuffer{},
	}
}

// Info is the externally visible snapshot of a preview process.
type Info struct {
	PreviewURL string `json:"previewUrl,omitempty"`
	Status     Status `json:"status"`
	Error      string `json:"error,omitempty"`
}

// info snapshots the process state. touch refreshes last-accessed.
func (p *process) info(touch bool) Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	if touch {
		p.lastAccess = time.Now()
	}
	out := Info{Status: p.status, Error: p.errMsg}
	if p.status == StatusReady {
		out.PreviewURL = fmt.Sprintf("http://127.0.0.1:%d", p.port)
	}
	return out
}

func (p *process) setStatus(status Status, errMsg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status.terminal() {
		return
	}
	p.status = status
	p.errMsg = errMsg
}

func (p *process) currentStatus() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *process) idleFor(now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return now.Sub(p.lastAccess)
}

// markStopped forces the terminal stopped state, recording the reason
// when the process was not already terminal.
func (p *process) markStopped(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status.terminal() {
		return
	}
	p.status = StatusStopped
	if reason != "" {
		p.errMsg = reason
	}
}

// attach records the spawned command under the lock.
func (p *process) attach(cmd *exec.Cmd) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cmd = cmd
	if cmd.Process != nil {
		p.pid = cmd.Process.Pid
	}
}

// kill terminates the whole process group: graceful signal first, then
// SIGKILL after the grace window. Dev servers spawn workers, so
// signaling only the direct child leaks them. Errors are swallowed;
// the group may already be gone.
func (p *process) kill(grace time.Duration, logger *slog.Logger) {
	p.stopOnce.Do(func() { close(p.stopCh) })

	p.mu.Lock()
	pid := p.pid
	p.mu.Unlock()
	if pid == 0 {
		return
	}

	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		// Fall back to the direct child.
		_ = syscall.Kill(pid, syscall.SIGTERM)
		return
	}

	_ = syscall.Kill(-pgid, syscall.SIGTERM)

	go func() {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		<-timer.C
		if err := syscall.Kill(-pgid, 0); err == nil {
			logger.Debug("escalating to SIGKILL",
				"project_id", p.projectID, "pgid", pgid)
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
		}
	}()
}

// pumpOutput scans one output stream for readiness sentinels, feeding
// every line into the tail buffer. The first sentinel hit closes
// readyCh.
func (p *process) pumpOutput(r io.Reader, readyCh chan<- struct{}, readyOnce *sync.Once, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 256*1024)
	for scanner.Scan() {
		select {
		case <-p.stopCh:
			return
		default:
		}

		line := scanner.Text()
		p.tail.Write([]byte(line + "\n"))
		log.Trace(logger, "dev server output",
			log.String("project_id", p.projectID), log.String("line", line))

		if hasReadySentinel(line) {
			readyOnce.Do(func() { close(readyCh) })
		}
	}
}

func hasReadySentinel(line string) bool {
	for _, sentinel := range readySentinels {
		if strings.Contains(line, sentinel) {
			return true
		}
	}
	return false
}

// histKey addresses a historical preview.
type histKey struct {
	projectID string
	iteration int
}

func (k histKey) String() string {
	return k.projectID + "/iter-" + strconv.Itoa(k.iteration)
}
