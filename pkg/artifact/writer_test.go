package artifact

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/errors"
)

func TestFileWriter(t *testing.T) {
	dir := t.TempDir()
	w := NewFileWriter(dir)
	ctx := context.Background()

	tests := []struct {
		name    string
		path    string
		content string
		want    string
	}{
		{"relative", "research_design.md", "# Design", filepath.Join(dir, "research_design.md")},
		{"nested", "reports/accruals/variable_list.md", "- TA", filepath.Join(dir, "reports/accruals/variable_list.md")},
		{"overwrite", "research_design.md", "# Design v2", filepath.Join(dir, "research_design.md")},
		{"absolute", filepath.Join(dir, "abs", "x.md"), "abs", filepath.Join(dir, "abs", "x.md")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := w.Write(ctx, tt.path, tt.content)
			if err != nil {
				t.Fatalf("write: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
			data, err := os.ReadFile(got)
			if err != nil {
				t.Fatalf("read back: %v", err)
			}
			if string(data) != tt.content {
				t.Fatalf("expected %q, got %q", tt.content, data)
			}
		})
	}
}

func TestFileWriterInvalidUTF8(t *testing.T) {
	w := NewFileWriter(t.TempDir())
	got, err := w.Write(context.Background(), "bad.md", "ok\xffok")
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	data, _ := os.ReadFile(got)
	if string(data) != "ok�ok" {
		t.Fatalf("expected replacement rune, got %q", data)
	}
}

func TestFileWriterFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	w := NewFileWriter(dir)
	_, err := w.Write(context.Background(), "file/child.md", "content")
	if !stderrors.Is(err, errors.ErrIO) {
		t.Fatalf("expected IOError, got %v", err)
	}
	if _, err := w.Write(context.Background(), " ", "x"); !stderrors.Is(err, errors.ErrIO) {
		t.Fatalf("expected IOError for empty path, got %v", err)
	}
}
