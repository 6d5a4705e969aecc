package tasksrc

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wisemagpie/wise-magpie/internal/config"
	"github.com/wisemagpie/wise-magpie/internal/models"
)

func gitRun(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

func initRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	gitRun(t, dir, "init", "-b", "main")
	gitRun(t, dir, "config", "user.email", "test@example.com")
	gitRun(t, dir, "config", "user.name", "Test")
	for name, content := range files {
		full := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	gitRun(t, dir, "add", ".")
	gitRun(t, dir, "commit", "-m", "initial commit")
	return dir
}

func TestQueueFileScan(t *testing.T) {
	dir := t.TempDir()
	content := strings.Join([]string{
		"# Backlog",
		"- [ ] Fix the flaky websocket test",
		"- [x] Already done",
		"- [ ] Add rate limiting",
		"not a task line",
		"- [ ]   ", // empty title
	}, "\n")
	os.WriteFile(filepath.Join(dir, ".wise-magpie-tasks"), []byte(content), 0o644)

	got, err := NewQueueFileSource().Scan(context.Background(), dir)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 candidates, got %d: %+v", len(got), got)
	}
	if got[0].Title != "Fix the flaky websocket test" {
		t.Errorf("Unexpected title: %q", got[0].Title)
	}
	if got[0].SourceRef != ".wise-magpie-tasks:2" {
		t.Errorf("Unexpected source ref: %q", got[0].SourceRef)
	}
	if got[1].SourceRef != ".wise-magpie-tasks:4" {
		t.Errorf("Unexpected source ref: %q", got[1].SourceRef)
	}
}

func TestQueueFileMissing(t *testing.T) {
	got, err := NewQueueFileSource().Scan(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nothing without a queue file, got %+v", got)
	}
}

func TestCommentScan(t *testing.T) {
	dir := initRepo(t, map[string]string{
		"server.go":      "package server\n\n// TODO: handle partial writes\nfunc Serve() {}\n",
		"script.py":      "# FIXME broken encoding\nprint('x')\n",
		"style.css":      "/* HACK workaround for safari */\nbody {}\n",
		"server_test.go": "// TODO should be ignored in tests\n",
		"tests/util.py":  "# TODO ignored in test dirs\n",
		"notes.txt":      "plain TODO without comment leader\n",
	})

	got, err := NewCommentSource().Scan(context.Background(), dir)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	byRef := map[string]Candidate{}
	for _, c := range got {
		byRef[c.SourceRef] = c
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 candidates, got %d: %v", len(got), byRef)
	}

	c, ok := byRef["server.go:3"]
	if !ok {
		t.Fatalf("Missing server.go candidate: %v", byRef)
	}
	if c.Title != "[TODO] handle partial writes" {
		t.Errorf("Unexpected title: %q", c.Title)
	}
	if _, ok := byRef["script.py:1"]; !ok {
		t.Error("Python FIXME not found")
	}
	if c, ok := byRef["style.css:1"]; !ok || !strings.HasPrefix(c.Title, "[HACK] workaround") {
		t.Errorf("CSS HACK not captured correctly: %+v", c)
	}
}

func TestCommentScanNonRepo(t *testing.T) {
	got, err := NewCommentSource().Scan(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if got != nil {
		t.Errorf("Non-repo should yield nothing, got %+v", got)
	}
}

func TestCommentTitleTruncated(t *testing.T) {
	long := "// TODO " + strings.Repeat("describe all the things ", 20)
	dir := initRepo(t, map[string]string{"long.go": long + "\n"})

	got, err := NewCommentSource().Scan(context.Background(), dir)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 candidate, got %d", len(got))
	}
	if len(got[0].Title) > maxCommentTitleLen {
		t.Errorf("Title should be truncated to %d chars, got %d",
			maxCommentTitleLen, len(got[0].Title))
	}
}

// memTemplateStore fakes template completion history.
type memTemplateStore struct {
	completions map[string]time.Time
}

func (m *memTemplateStore) LastAutoTemplateCompletion(taskType string) (time.Time, bool, error) {
	ts, ok := m.completions[taskType]
	return ts, ok, nil
}

func templateConfig(workDir string) *config.Config {
	cfg := config.Default()
	cfg.AutoTasks.Enabled = true
	cfg.AutoTasks.WorkDir = workDir
	return cfg
}

func refsByType(candidates []Candidate) map[string]string {
	out := map[string]string{}
	for _, c := range candidates {
		taskType, _, _ := strings.Cut(c.SourceRef, ":")
		out[taskType] = c.SourceRef
	}
	return out
}

func TestTemplateScanFreshRepo(t *testing.T) {
	dir := initRepo(t, map[string]string{"main.go": "package main\n"})
	st := &memTemplateStore{completions: map[string]time.Time{}}
	src := NewTemplateSource(st, templateConfig(dir))

	got, err := src.Scan(context.Background(), dir)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	refs := refsByType(got)

	// Interval templates with code-change conditions fire on a fresh repo.
	for _, taskType := range []string{"run_tests", "update_docs", "lint_check", "dependency_check"} {
		if _, ok := refs[taskType]; !ok {
			t.Errorf("Expected %s to fire, got %v", taskType, refs)
		}
	}
	// Commit-count templates need 10 and 5 commits ahead of main.
	for _, taskType := range []string{"clean_commits", "changelog_generation"} {
		if _, ok := refs[taskType]; ok {
			t.Errorf("%s should not fire with no commits ahead", taskType)
		}
	}

	today := time.Now().Format("2006-01-02")
	if ref := refs["run_tests"]; ref != "run_tests:"+today {
		t.Errorf("Unexpected source ref: %q", ref)
	}
}

func TestTemplateIntervalSuppresses(t *testing.T) {
	dir := initRepo(t, map[string]string{"main.go": "package main\n"})
	st := &memTemplateStore{completions: map[string]time.Time{
		"run_tests": time.Now().Add(-time.Hour),
	}}
	src := NewTemplateSource(st, templateConfig(dir))

	got, err := src.Scan(context.Background(), dir)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if _, ok := refsByType(got)["run_tests"]; ok {
		t.Error("run_tests completed an hour ago should not fire within 24h")
	}
}

func TestTemplateDisabledGlobally(t *testing.T) {
	dir := initRepo(t, map[string]string{"main.go": "package main\n"})
	cfg := templateConfig(dir)
	cfg.AutoTasks.Enabled = false
	src := NewTemplateSource(&memTemplateStore{}, cfg)

	got, err := src.Scan(context.Background(), dir)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if got != nil {
		t.Errorf("Disabled auto tasks should yield nothing, got %+v", got)
	}
}

func TestTemplateOverrideDisables(t *testing.T) {
	dir := initRepo(t, map[string]string{"main.go": "package main\n"})
	cfg := templateConfig(dir)
	off := false
	cfg.AutoTasks.Overrides = map[string]config.TemplateOverride{
		"run_tests": {Enabled: &off},
	}
	src := NewTemplateSource(&memTemplateStore{}, cfg)

	got, err := src.Scan(context.Background(), dir)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if _, ok := refsByType(got)["run_tests"]; ok {
		t.Error("Overridden-off template should not fire")
	}
}

// memTaskStore collects created tasks for aggregator tests.
type memTaskStore struct {
	tasks  []*models.Task
	nextID int64
}

func (m *memTaskStore) HasTaskWithSourceRef(source models.TaskSource, ref string) (bool, error) {
	for _, task := range m.tasks {
		if task.Source == source && task.SourceRef == ref {
			return true, nil
		}
	}
	return false, nil
}

func (m *memTaskStore) CreateTask(task *models.Task) (*models.Task, error) {
	m.nextID++
	task.ID = m.nextID
	m.tasks = append(m.tasks, task)
	return task, nil
}

type staticSource struct {
	name       string
	candidates []Candidate
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) Scan(context.Context, string) ([]Candidate, error) {
	return s.candidates, nil
}

func TestAggregatorScoresAndDedups(t *testing.T) {
	st := &memTaskStore{}
	src := &staticSource{name: "static", candidates: []Candidate{
		{Title: "fix security bug", Source: models.SourceCodeComment, SourceRef: "a.go:1"},
		{Title: "update docs", Source: models.SourceCodeComment, SourceRef: "b.go:2"},
	}}
	agg := NewAggregator(st, slog.New(slog.NewTextHandler(io.Discard, nil)), src)

	n, err := agg.Scan(context.Background(), ".")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("Expected 2 created, got %d", n)
	}
	if st.tasks[0].Priority <= st.tasks[1].Priority {
		t.Errorf("Security fix should outscore docs: %.1f vs %.1f",
			st.tasks[0].Priority, st.tasks[1].Priority)
	}
	if st.tasks[0].Status != models.TaskStatusPending {
		t.Errorf("New tasks should be pending, got %s", st.tasks[0].Status)
	}

	// Rescanning the same inputs creates nothing.
	n, err = agg.Scan(context.Background(), ".")
	if err != nil {
		t.Fatalf("Rescan failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Rescan should be idempotent, created %d", n)
	}
	if len(st.tasks) != 2 {
		t.Errorf("Expected 2 tasks total, got %d", len(st.tasks))
	}
}
