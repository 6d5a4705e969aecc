package tasksrc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/wisemagpie/wise-magpie/internal/models"
)

// Queue file names searched in order; the first that exists wins.
var queueFileNames = []string{
	".wise-magpie-tasks",
	"wise-magpie-tasks.md",
}

// taskLinePattern matches an unchecked markdown task item. Checked items
// ("- [x]") stay in the file but are never harvested.
var taskLinePattern = regexp.MustCompile(`^-\s*\[\s*\]\s+(.+)$`)

// QueueFileSource reads operator-queued tasks from a markdown checklist.
type QueueFileSource struct{}

// NewQueueFileSource returns a queue-file scanner.
func NewQueueFileSource() *QueueFileSource { return &QueueFileSource{} }

func (s *QueueFileSource) Name() string { return "queue_file" }

// Scan parses the queue file in workDir, one candidate per unchecked item,
// keyed by file name and line number.
func (s *QueueFileSource) Scan(ctx context.Context, workDir string) ([]Candidate, error) {
	var path, name string
	for _, n := range queueFileNames {
		p := filepath.Join(workDir, n)
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			path, name = p, n
			break
		}
	}
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read queue file: %w", err)
	}

	var candidates []Candidate
	for i, line := range strings.Split(string(data), "\n") {
		m := taskLinePattern.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		title := strings.TrimSpace(m[1])
		if title == "" {
			continue
		}
		candidates = append(candidates, Candidate{
			Title:     title,
			Source:    models.SourceQueueFile,
			SourceRef: fmt.Sprintf("%s:%d", name, i+1),
			WorkDir:   workDir,
		})
	}
	return candidates, nil
}
