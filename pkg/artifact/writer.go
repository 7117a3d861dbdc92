// Package artifact writes task outputs to their destinations.
package artifact

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/errors"
)

// Writer persists a task's final answer.
type Writer interface {
	// Write stores content at path and returns the resolved destination.
	Write(ctx context.Context, path, content string) (string, error)
}

// FileWriter writes UTF-8 files, creating parent directories and
// overwriting existing files. Relative paths are resolved against Dir.
type FileWriter struct {
	Dir string
}

// NewFileWriter returns a writer rooted at dir. An empty dir means the
// working directory.
func NewFileWriter(dir string) *FileWriter {
	return &FileWriter{Dir: dir}
}

// Resolve returns the destination for path.
func (w *FileWriter) Resolve(path string) string {
	path = filepath.Clean(path)
	if filepath.IsAbs(path) || w == nil || w.Dir == "" {
		return path
	}
	return filepath.Join(w.Dir, path)
}

// Write implements Writer. Failures are IOErrors carrying the path.
func (w *FileWriter) Write(ctx context.Context, path, content string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New(errors.CodeIO, "empty artifact path", nil)
	}
	dest := w.Resolve(path)
	if err := ctx.Err(); err != nil {
		return dest, errors.New(errors.CodeIO, "artifact write cancelled", err).WithContext("path", dest)
	}
	if !utf8.ValidString(content) {
		content = strings.ToValidUTF8(content, "�")
	}
	if dir := filepath.Dir(dest); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return dest, errors.New(errors.CodeIO, "create artifact directory", err).WithContext("path", dest)
		}
	}
	if err := os.WriteFile(dest, []byte(content), 0o644); err != nil {
		return dest, errors.New(errors.CodeIO, "write artifact", err).WithContext("path", dest)
	}
	return dest, nil
}
