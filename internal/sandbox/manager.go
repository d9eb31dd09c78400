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

// Package sandbox runs and supervises preview dev servers: one current
// preview per project plus a small pool of historical previews serving
// extracted snapshots. Processes run in their own process groups and
// are reaped when idle.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tombee/atelier/internal/workspace"
	"github.com/tombee/atelier/pkg/errors"
)

// Config tunes the manager. Zero values select the defaults.
type Config struct {
	// TemplateDir seeds workspaces that are missing a package manifest.
	TemplateDir string

	// InstallCommand and DevCommand override the npm defaults; tests
	// substitute shell stubs here.
	InstallCommand []string
	DevCommand     []string

	// ReadyTimeout bounds the wait for a readiness sentinel after spawn.
	ReadyTimeout time.Duration

	// KillGrace is the SIGTERM-to-SIGKILL window.
	KillGrace time.Duration

	// ReapInterval is the idle-reaper tick.
	ReapInterval time.Duration

	// CurrentTTL and HistoricalTTL are idle lifetimes before the reaper
	// stops a preview.
	CurrentTTL    time.Duration
	HistoricalTTL time.Duration

	// MaxHistorical caps live historical previews across the manager;
	// starting one beyond the cap evicts the least recently accessed.
	MaxHistorical int

	Logger *slog.Logger

	// LiveGauge, when set, tracks the number of running preview
	// processes.
	LiveGauge prometheus.Gauge
}

func (c Config) withDefaults() Config {
	if len(c.InstallCommand) == 0 {
		c.InstallCommand = []string{"npm", "install"}
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 120 * time.Second
	}
	if c.KillGrace <= 0 {
		c.KillGrace = 5 * time.Second
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = 60 * time.Second
	}
	if c.CurrentTTL <= 0 {
		c.CurrentTTL = 30 * time.Minute
	}
	if c.HistoricalTTL <= 0 {
		c.HistoricalTTL = 10 * time.Minute
	}
	if c.MaxHistorical <= 0 {
		c.MaxHistorical = 2
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Manager owns every preview process. One mutex guards both pools;
// startup work happens outside it in per-process goroutines.
type Manager struct {
	cfg Config

	mu         sync.Mutex
	current    map[string]*process
	historical map[histKey]*process

	reaperStop chan struct{}
	stopOnce   sync.Once
}

// NewManager creates a manager and starts its idle reaper.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		cfg:        cfg.withDefaults(),
		current:    make(map[string]*process),
		historical: make(map[histKey]*process),
		reaperStop: make(chan struct{}),
	}
	go m.reapLoop()
	return m
}

// StartCurrent launches the project's current preview from the
// workspace directory, or returns the live one. A preview that is not
// terminal keeps its port and URL; starting refreshes its last-accessed
// time. The call returns once the process is spawned; readiness is
// reported through StatusCurrent.
func (m *Manager) StartCurrent(ctx context.Context, projectID, workspaceDir string) (Info, error) {
	m.mu.Lock()
	if existing, ok := m.current[projectID]; ok && !existing.currentStatus().terminal() {
		m.mu.Unlock()
		return existing.info(true), nil
	}
	m.mu.Unlock()

	port, err := allocatePort()
	if err != nil {
		return Info{}, m.wrap(projectID, "spawn", "no free port", nil, err)
	}

	proc := newProcess(projectID, -1, workspaceDir, port)

	m.mu.Lock()
	if existing, ok := m.current[projectID]; ok {
		if !existing.currentStatus().terminal() {
			// Lost a race with another starter; use theirs.
			m.mu.Unlock()
			return existing.info(true), nil
		}
		m.gaugeDec(existing)
	}
	m.current[projectID] = proc
	m.mu.Unlock()

	m.gaugeInc()
	go m.boot(ctx, proc)
	return proc.info(false), nil
}

// StartHistorical launches a preview for an extracted snapshot. Live
// historical previews beyond the cap are evicted least recently
// accessed first.
func (m *Manager) StartHistorical(ctx context.Context, projectID string, iteration int, runtimeDir string) (Info, error) {
	key := histKey{projectID: projectID, iteration: iteration}

	m.mu.Lock()
	if existing, ok := m.historical[key]; ok && !existing.currentStatus().terminal() {
		m.mu.Unlock()
		return existing.info(true), nil
	}
	m.mu.Unlock()

	port, err := allocatePort()
	if err != nil {
		return Info{}, m.wrap(projectID, "spawn", "no free port", nil, err)
	}

	proc := newProcess(projectID, iteration, runtimeDir, port)

	m.mu.Lock()
	m.evictHistoricalLocked()
	m.historical[key] = proc
	m.mu.Unlock()

	m.gaugeInc()
	go m.boot(ctx, proc)
	return proc.info(false), nil
}

// evictHistoricalLocked stops least-recently-accessed live historical
// previews until one slot is free. The pool is global: the cap bounds
// live historical processes across all projects. Terminal entries do
// not count against the cap but stay in the map so their error state
// remains inspectable.
func (m *Manager) evictHistoricalLocked() {
	for {
		var (
			live   int
			oldest *process
			oldKey histKey
		)
		for key, proc := range m.historical {
			if proc.currentStatus().terminal() {
				continue
			}
			live++
			proc.mu.Lock()
			access := proc.lastAccess
			proc.mu.Unlock()
			if oldest == nil || access.Before(oldestAccess(oldest)) {
				oldest = proc
				oldKey = key
			}
		}
		if live < m.cfg.MaxHistorical || oldest == nil {
			return
		}
		m.cfg.Logger.Info("evicting historical preview",
			"project_id", oldKey.projectID, "iteration", oldKey.iteration)
		oldest.kill(m.cfg.KillGrace, m.cfg.Logger)
		oldest.markStopped("evicted")
		m.gaugeDec(oldest)
		delete(m.historical, oldKey)
	}
}

func oldestAccess(p *process) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastAccess
}

// StatusCurrent reports the current preview's state. Unknown projects
// read as stopped.
func (m *Manager) StatusCurrent(projectID string) Info {
	m.mu.Lock()
	proc, ok := m.current[projectID]
	m.mu.Unlock()
	if !ok {
		return Info{Status: StatusStopped}
	}
	return proc.info(true)
}

// StatusHistorical reports a historical preview's state.
func (m *Manager) StatusHistorical(projectID string, iteration int) Info {
	m.mu.Lock()
	proc, ok := m.historical[histKey{projectID: projectID, iteration: iteration}]
	m.mu.Unlock()
	if !ok {
		return Info{Status: StatusStopped}
	}
	return proc.info(true)
}

// StopCurrent stops the project's current preview, if any.
func (m *Manager) StopCurrent(projectID string) {
	m.mu.Lock()
	proc, ok := m.current[projectID]
	if ok {
		delete(m.current, projectID)
	}
	m.mu.Unlock()
	if ok {
		proc.kill(m.cfg.KillGrace, m.cfg.Logger)
		proc.markStopped("")
		m.gaugeDec(proc)
	}
}

// StopHistorical stops one historical preview.
func (m *Manager) StopHistorical(projectID string, iteration int) {
	key := histKey{projectID: projectID, iteration: iteration}
	m.mu.Lock()
	proc, ok := m.historical[key]
	if ok {
		delete(m.historical, key)
	}
	m.mu.Unlock()
	if ok {
		proc.kill(m.cfg.KillGrace, m.cfg.Logger)
		proc.markStopped("")
		m.gaugeDec(proc)
	}
}

// StopAll stops every preview and the reaper. Called on daemon
// shutdown.
func (m *Manager) StopAll() {
	m.stopOnce.Do(func() { close(m.reaperStop) })

	m.mu.Lock()
	procs := make([]*process, 0, len(m.current)+len(m.historical))
	for _, p := range m.current {
		procs = append(procs, p)
	}
	for _, p := range m.historical {
		procs = append(procs, p)
	}
	m.current = make(map[string]*process)
	m.historical = make(map[histKey]*process)
	m.mu.Unlock()

	for _, p := range procs {
		p.kill(m.cfg.KillGrace, m.cfg.Logger)
		p.markStopped("")
		m.gaugeDec(p)
	}
}

// boot runs the startup pipeline: manifest self-heal, dependency
// install when needed, spawn, readiness wait.
func (m *Manager) boot(ctx context.Context, p *process) {
	logger := m.cfg.Logger.With("project_id", p.projectID, "port", p.port)

	if err := m.ensureManifest(p.dir); err != nil {
		p.setStatus(StatusError, err.Error())
		logger.Error("workspace has no package manifest", "error", err)
		return
	}

	if _, err := os.Stat(filepath.Join(p.dir, "node_modules")); os.IsNotExist(err) {
		logger.Info("installing dependencies")
		if err := m.runInstall(ctx, p); err != nil {
			p.setStatus(StatusError, err.Error())
			logger.Error("dependency install failed", "error", err)
			return
		}
	}

	select {
	case <-p.stopCh:
		return
	default:
	}

	p.setStatus(StatusStarting, "")
	if err := m.runDevServer(ctx, p, logger); err != nil {
		p.setStatus(StatusError, err.Error())
		logger.Error("dev server failed to become ready", "error", err)
	}
}

// ensureManifest seeds the workspace from the template when no
// package.json exists. Without a template there is nothing to run.
func (m *Manager) ensureManifest(dir string) error {
	if _, err := os.Stat(filepath.Join(dir, "package.json")); err == nil {
		return nil
	}
	if m.cfg.TemplateDir == "" {
		return m.wrap("", "install", "workspace has no package.json and no template is configured", nil, nil)
	}
	return workspace.CopyDir(m.cfg.TemplateDir, dir)
}

func (m *Manager) runInstall(ctx context.Context, p *process) error {
	cmd := exec.CommandContext(ctx, m.cfg.InstallCommand[0], m.cfg.InstallCommand[1:]...)
	cmd.Dir = p.dir
	cmd.Env = processEnv(p.port)
	cmd.Stdout = p.tail
	cmd.Stderr = p.tail
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Run(); err != nil {
		return m.wrap(p.projectID, "install", "install command failed", p, err)
	}
	return nil
}

func (m *Manager) runDevServer(ctx context.Context, p *process, logger *slog.Logger) error {
	// PORT is also in the environment; the explicit flag wins for dev
	// servers that ignore the variable.
	args := m.cfg.DevCommand
	if len(args) == 0 {
		args = []string{"npm", "run", "dev", "--", "--port", strconv.Itoa(p.port)}
	}
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = p.dir
	cmd.Env = processEnv(p.port)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return m.wrap(p.projectID, "spawn", "stdout pipe", p, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return m.wrap(p.projectID, "spawn", "stderr pipe", p, err)
	}

	if err := cmd.Start(); err != nil {
		return m.wrap(p.projectID, "spawn", "dev command failed to start", p, err)
	}
	p.attach(cmd)

	readyCh := make(chan struct{})
	var readyOnce sync.Once
	go p.pumpOutput(stdout, readyCh, &readyOnce, logger)
	go p.pumpOutput(stderr, readyCh, &readyOnce, logger)

	exitCh := make(chan error, 1)
	go func() { exitCh <- cmd.Wait() }()

	timer := time.NewTimer(m.cfg.ReadyTimeout)
	defer timer.Stop()

	select {
	case <-readyCh:
		p.setStatus(StatusReady, "")
		logger.Info("preview ready", "url", fmt.Sprintf("http://127.0.0.1:%d", p.port))
		go m.watchExit(p, exitCh)
		return nil

	case err := <-exitCh:
		return m.wrap(p.projectID, "ready", "dev server exited before becoming ready", p, err)

	case <-timer.C:
		p.kill(m.cfg.KillGrace, m.cfg.Logger)
		return m.wrap(p.projectID, "ready", "timed out waiting for readiness", p, nil)

	case <-p.stopCh:
		return m.wrap(p.projectID, "ready", "stopped during startup", p, nil)

	case <-ctx.Done():
		p.kill(m.cfg.KillGrace, m.cfg.Logger)
		return m.wrap(p.projectID, "ready", "canceled during startup", p, ctx.Err())
	}
}

// watchExit flips a ready process to error if its dev server dies on
// its own.
func (m *Manager) watchExit(p *process, exitCh <-chan error) {
	err := <-exitCh
	select {
	case <-p.stopCh:
		return
	default:
	}
	msg := "dev server exited"
	if err != nil {
		msg = "dev server exited: " + err.Error()
	}
	p.setStatus(StatusError, msg)
	m.gaugeDec(p)
}

// reapLoop stops previews idle past their TTL.
func (m *Manager) reapLoop() {
	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.reaperStop:
			return
		case now := <-ticker.C:
			m.reap(now)
		}
	}
}

func (m *Manager) reap(now time.Time) {
	type victim struct {
		proc      *process
		isCurrent bool
		projectID string
		iteration int
	}
	var victims []victim

	m.mu.Lock()
	for id, proc := range m.current {
		if proc.currentStatus() == StatusReady && proc.idleFor(now) > m.cfg.CurrentTTL {
			victims = append(victims, victim{proc: proc, isCurrent: true, projectID: id})
			delete(m.current, id)
		}
	}
	for key, proc := range m.historical {
		if proc.currentStatus() == StatusReady && proc.idleFor(now) > m.cfg.HistoricalTTL {
			victims = append(victims, victim{proc: proc, projectID: key.projectID, iteration: key.iteration})
			delete(m.historical, key)
		}
	}
	m.mu.Unlock()

	for _, v := range victims {
		m.cfg.Logger.Info("reaping idle preview",
			"project_id", v.projectID, "current", v.isCurrent, "iteration", v.iteration)
		v.proc.kill(m.cfg.KillGrace, m.cfg.Logger)
		v.proc.markStopped("idle")
		m.gaugeDec(v.proc)
	}
}

func (m *Manager) gaugeInc() {
	if m.cfg.LiveGauge != nil {
		m.cfg.LiveGauge.Inc()
	}
}

// gaugeDec decrements at most once per process.
func (m *Manager) gaugeDec(p *process) {
	if m.cfg.LiveGauge == nil {
		return
	}
	p.mu.Lock()
	done := p.gaugeDone
	p.gaugeDone = true
	p.mu.Unlock()
	if !done {
		m.cfg.LiveGauge.Dec()
	}
}

func (m *Manager) wrap(projectID, phase, msg string, p *process, cause error) error {
	var tail string
	if p != nil {
		tail = p.tail.String()
	}
	return &errors.SandboxError{
		ProjectID: projectID,
		Phase:     phase,
		Message:   msg,
		LogTail:   tail,
		Cause:     cause,
	}
}

// allocatePort asks the OS for a free ephemeral port.
func allocatePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
