package tasksrc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/wisemagpie/wise-magpie/internal/gitx"
	"github.com/wisemagpie/wise-magpie/internal/models"
)

// commentPattern matches a comment leader followed by a marker keyword and
// its body.
var commentPattern = regexp.MustCompile(
	`(?i)(?:#|//|/\*|\*|--|;)\s*(TODO|FIXME|HACK|XXX)[\s:(\-]*(.+)$`)

const maxCommentTitleLen = 120

// Files larger than this are skipped; marker comments live in source files,
// not data blobs.
const maxScanFileSize = 1 << 20

var testDirNames = map[string]bool{
	"tests": true, "test": true, "spec": true, "__tests__": true,
}

var testFilePatterns = []string{
	"*_test.go",
	"test_*.py",
	"*_test.py",
	"*_spec.py",
	"conftest.py",
	"*.test.js",
	"*.test.ts",
	"*.spec.js",
	"*.spec.ts",
}

// CommentSource finds TODO, FIXME, HACK, and XXX markers in tracked files.
type CommentSource struct{}

// NewCommentSource returns a marker-comment scanner.
func NewCommentSource() *CommentSource { return &CommentSource{} }

func (s *CommentSource) Name() string { return "code_comment" }

// Scan walks tracked non-test files and yields one candidate per marker
// comment, keyed by file and line. A work dir that is not a git repository
// yields nothing.
func (s *CommentSource) Scan(ctx context.Context, workDir string) ([]Candidate, error) {
	repo, err := gitx.Open(ctx, workDir)
	if err != nil {
		if errors.Is(err, gitx.ErrNotARepository) {
			return nil, nil
		}
		return nil, err
	}

	files, err := repo.LsFiles(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []Candidate
	for _, rel := range files {
		if isTestFile(rel) {
			continue
		}
		full := filepath.Join(workDir, rel)
		info, err := os.Stat(full)
		if err != nil || !info.Mode().IsRegular() || info.Size() > maxScanFileSize {
			continue
		}
		data, err := os.ReadFile(full)
		if err != nil {
			continue
		}

		for i, line := range strings.Split(string(data), "\n") {
			m := commentPattern.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			keyword := strings.ToUpper(m[1])
			body := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(m[2]), "*/"))
			if body == "" {
				continue
			}

			title := "[" + keyword + "] " + body
			if len(title) > maxCommentTitleLen {
				title = title[:maxCommentTitleLen]
			}
			candidates = append(candidates, Candidate{
				Title:     title,
				Source:    models.SourceCodeComment,
				SourceRef: fmt.Sprintf("%s:%d", rel, i+1),
				WorkDir:   workDir,
			})
		}
	}
	return candidates, nil
}

func isTestFile(rel string) bool {
	parts := strings.Split(rel, "/")
	for _, dir := range parts[:len(parts)-1] {
		if testDirNames[dir] {
			return true
		}
	}
	name := parts[len(parts)-1]
	for _, pattern := range testFilePatterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}
