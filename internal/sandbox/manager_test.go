package sandbox

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// testConfig swaps npm for shell stubs and shrinks every timeout.
func testConfig(dev string) Config {
	return Config{
		InstallCommand: []string{"sh", "-c", "true"},
		DevCommand:     []string{"sh", "-c", dev},
		ReadyTimeout:   3 * time.Second,
		KillGrace:      200 * time.Millisecond,
		ReapInterval:   time.Hour,
		Logger:         slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
	}
}

func seedManifest(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"app"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	// A deps dir so boot skips the install step unless a test wants it.
	if err := os.MkdirAll(filepath.Join(dir, "node_modules"), 0o755); err != nil {
		t.Fatal(err)
	}
	return dir
}

func waitForStatus(t *testing.T, poll func() Info, want Status) Info {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		info := poll()
		if info.Status == want {
			return info
		}
		if info.Status.terminal() && !want.terminal() {
			t.Fatalf("terminal status %q (%s) while waiting for %q", info.Status, info.Error, want)
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %q, last = %+v", want, poll())
	return Info{}
}

func TestManager_CurrentBecomesReady(t *testing.T) {
	m := NewManager(testConfig(`echo "Ready in 1.2s"; sleep 60`))
	defer m.StopAll()
	dir := seedManifest(t)

	if _, err := m.StartCurrent(context.Background(), "p1", dir); err != nil {
		t.Fatal(err)
	}
	info := waitForStatus(t, func() Info { return m.StatusCurrent("p1") }, StatusReady)
	if info.PreviewURL == "" {
		t.Error("ready preview has no URL")
	}
}

func TestManager_SentinelVariants(t *testing.T) {
	for _, line := range []string{"✓ Ready", "Local:   http://localhost:3000"} {
		m := NewManager(testConfig(`echo '` + line + `'; sleep 60`))
		dir := seedManifest(t)
		if _, err := m.StartCurrent(context.Background(), "p1", dir); err != nil {
			t.Fatal(err)
		}
		waitForStatus(t, func() Info { return m.StatusCurrent("p1") }, StatusReady)
		m.StopAll()
	}
}

func TestManager_InstallFailureSurfacesLogTail(t *testing.T) {
	cfg := testConfig(`sleep 60`)
	cfg.InstallCommand = []string{"sh", "-c", "echo 'npm ERR! peer dep conflict' >&2; exit 1"}
	m := NewManager(cfg)
	defer m.StopAll()

	dir := seedManifest(t)
	if err := os.RemoveAll(filepath.Join(dir, "node_modules")); err != nil {
		t.Fatal(err)
	}

	if _, err := m.StartCurrent(context.Background(), "p1", dir); err != nil {
		t.Fatal(err)
	}
	info := waitForStatus(t, func() Info { return m.StatusCurrent("p1") }, StatusError)
	if info.Error == "" {
		t.Fatal("error status without a message")
	}
	if want := "npm ERR! peer dep conflict"; !strings.Contains(info.Error, want) {
		t.Errorf("error %q does not carry the log tail %q", info.Error, want)
	}
}

func TestManager_ReadyTimeout(t *testing.T) {
	cfg := testConfig(`sleep 60`)
	cfg.ReadyTimeout = 300 * time.Millisecond
	m := NewManager(cfg)
	defer m.StopAll()

	if _, err := m.StartCurrent(context.Background(), "p1", seedManifest(t)); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, func() Info { return m.StatusCurrent("p1") }, StatusError)
}

func TestManager_DevServerExitBeforeReady(t *testing.T) {
	m := NewManager(testConfig(`echo booting; exit 1`))
	defer m.StopAll()

	if _, err := m.StartCurrent(context.Background(), "p1", seedManifest(t)); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, func() Info { return m.StatusCurrent("p1") }, StatusError)
}

func TestManager_StartCurrentReusesLivePreview(t *testing.T) {
	m := NewManager(testConfig(`echo "Ready in 1s"; sleep 60`))
	defer m.StopAll()
	dir := seedManifest(t)

	if _, err := m.StartCurrent(context.Background(), "p1", dir); err != nil {
		t.Fatal(err)
	}
	first := waitForStatus(t, func() Info { return m.StatusCurrent("p1") }, StatusReady)

	again, err := m.StartCurrent(context.Background(), "p1", dir)
	if err != nil {
		t.Fatal(err)
	}
	if again.Status != StatusReady {
		t.Errorf("second start status = %q, want ready", again.Status)
	}
	if again.PreviewURL != first.PreviewURL {
		t.Errorf("second start moved the preview: %q -> %q", first.PreviewURL, again.PreviewURL)
	}
}

func TestManager_StartCurrentRelaunchesAfterStop(t *testing.T) {
	m := NewManager(testConfig(`echo "Ready in 1s"; sleep 60`))
	defer m.StopAll()
	dir := seedManifest(t)

	if _, err := m.StartCurrent(context.Background(), "p1", dir); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, func() Info { return m.StatusCurrent("p1") }, StatusReady)
	m.StopCurrent("p1")

	if _, err := m.StartCurrent(context.Background(), "p1", dir); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, func() Info { return m.StatusCurrent("p1") }, StatusReady)
}

func TestManager_StartCurrentReplacesDeadPreview(t *testing.T) {
	m := NewManager(testConfig(`echo booting; exit 1`))
	defer m.StopAll()
	dir := seedManifest(t)

	if _, err := m.StartCurrent(context.Background(), "p1", dir); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, func() Info { return m.StatusCurrent("p1") }, StatusError)

	// A terminal entry does not satisfy a start; a fresh process is
	// spawned in its place.
	info, err := m.StartCurrent(context.Background(), "p1", dir)
	if err != nil {
		t.Fatal(err)
	}
	if info.Status.terminal() {
		t.Errorf("start returned the dead preview: %+v", info)
	}
}

func TestManager_StopCurrent(t *testing.T) {
	m := NewManager(testConfig(`echo "Ready in 1s"; sleep 60`))
	defer m.StopAll()

	if _, err := m.StartCurrent(context.Background(), "p1", seedManifest(t)); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, func() Info { return m.StatusCurrent("p1") }, StatusReady)
	m.StopCurrent("p1")

	if got := m.StatusCurrent("p1").Status; got != StatusStopped {
		t.Errorf("status after stop = %q", got)
	}
}

func TestManager_HistoricalEvictsLRU(t *testing.T) {
	cfg := testConfig(`echo "Ready in 1s"; sleep 60`)
	cfg.MaxHistorical = 2
	m := NewManager(cfg)
	defer m.StopAll()
	ctx := context.Background()

	for _, iter := range []int{0, 1} {
		if _, err := m.StartHistorical(ctx, "p1", iter, seedManifest(t)); err != nil {
			t.Fatal(err)
		}
		iter := iter
		waitForStatus(t, func() Info { return m.StatusHistorical("p1", iter) }, StatusReady)
	}

	// Touch iteration 0 so iteration 1 is the LRU victim.
	time.Sleep(20 * time.Millisecond)
	m.StatusHistorical("p1", 0)

	if _, err := m.StartHistorical(ctx, "p1", 2, seedManifest(t)); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, func() Info { return m.StatusHistorical("p1", 2) }, StatusReady)

	if got := m.StatusHistorical("p1", 1).Status; got != StatusStopped {
		t.Errorf("LRU historical = %q, want stopped", got)
	}
	if got := m.StatusHistorical("p1", 0).Status; got != StatusReady {
		t.Errorf("recently touched historical = %q, want ready", got)
	}
}

func TestManager_HistoricalCapSpansProjects(t *testing.T) {
	cfg := testConfig(`echo "Ready in 1s"; sleep 60`)
	cfg.MaxHistorical = 2
	m := NewManager(cfg)
	defer m.StopAll()
	ctx := context.Background()

	if _, err := m.StartHistorical(ctx, "p1", 0, seedManifest(t)); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, func() Info { return m.StatusHistorical("p1", 0) }, StatusReady)
	if _, err := m.StartHistorical(ctx, "p2", 0, seedManifest(t)); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, func() Info { return m.StatusHistorical("p2", 0) }, StatusReady)

	// Touch p1 so p2 is the LRU victim, then fill the pool from a third
	// project. The cap is global, so p2's preview must go.
	time.Sleep(20 * time.Millisecond)
	m.StatusHistorical("p1", 0)

	if _, err := m.StartHistorical(ctx, "p3", 0, seedManifest(t)); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, func() Info { return m.StatusHistorical("p3", 0) }, StatusReady)

	if got := m.StatusHistorical("p2", 0).Status; got != StatusStopped {
		t.Errorf("cross-project LRU = %q, want stopped", got)
	}
	if got := m.StatusHistorical("p1", 0).Status; got != StatusReady {
		t.Errorf("recently touched historical = %q, want ready", got)
	}
}

func TestManager_HistoricalStartIsIdempotentWhileLive(t *testing.T) {
	m := NewManager(testConfig(`echo "Ready in 1s"; sleep 60`))
	defer m.StopAll()
	ctx := context.Background()
	dir := seedManifest(t)

	if _, err := m.StartHistorical(ctx, "p1", 0, dir); err != nil {
		t.Fatal(err)
	}
	first := waitForStatus(t, func() Info { return m.StatusHistorical("p1", 0) }, StatusReady)

	again, err := m.StartHistorical(ctx, "p1", 0, dir)
	if err != nil {
		t.Fatal(err)
	}
	if again.PreviewURL != first.PreviewURL {
		t.Errorf("second start relaunched: %q vs %q", again.PreviewURL, first.PreviewURL)
	}
}

func TestManager_ManifestSelfHeal(t *testing.T) {
	template := t.TempDir()
	if err := os.WriteFile(filepath.Join(template, "package.json"), []byte(`{"name":"template"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(`echo "Ready in 1s"; sleep 60`)
	cfg.TemplateDir = template
	m := NewManager(cfg)
	defer m.StopAll()

	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "node_modules"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := m.StartCurrent(context.Background(), "p1", dir); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, func() Info { return m.StatusCurrent("p1") }, StatusReady)

	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"name":"template"}` {
		t.Errorf("manifest = %q", data)
	}
}

func TestManager_ReapIdleHistorical(t *testing.T) {
	cfg := testConfig(`echo "Ready in 1s"; sleep 60`)
	cfg.HistoricalTTL = 50 * time.Millisecond
	m := NewManager(cfg)
	defer m.StopAll()

	if _, err := m.StartHistorical(context.Background(), "p1", 0, seedManifest(t)); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, func() Info { return m.StatusHistorical("p1", 0) }, StatusReady)

	time.Sleep(100 * time.Millisecond)
	m.reap(time.Now())

	if got := m.StatusHistorical("p1", 0).Status; got != StatusStopped {
		t.Errorf("status after reap = %q, want stopped", got)
	}
}
