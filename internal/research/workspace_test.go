package research

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSafeTarget(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Acme Corp", "acme_corp"},
		{"  OpenAI, Inc.  ", "openai_inc"},
		{"株式会社", "target"},
		{"", "target"},
		{"a-b_c d", "a_b_c_d"},
	}
	for _, tc := range cases {
		if got := safeTarget(tc.in); got != tc.want {
			t.Fatalf("safeTarget(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSafeTargetTruncated(t *testing.T) {
	long := strings.Repeat("a", 60)
	if got := safeTarget(long); len(got) != 40 {
		t.Fatalf("expected 40 chars, got %d", len(got))
	}
}

func TestWorkspaceDir(t *testing.T) {
	got := workspaceDir("/tmp/base", "Acme Corp", "0123456789abcdef")
	want := filepath.Join("/tmp/base", "research_acme_corp_01234567")
	if got != want {
		t.Fatalf("workspaceDir = %q, want %q", got, want)
	}
}

func TestCreateAndRemoveWorkspace(t *testing.T) {
	base := t.TempDir()

	dir, err := createWorkspace(base, "Acme Corp", "job-1234")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "03_pages"))
	if err != nil || !info.IsDir() {
		t.Fatalf("expected pages subdirectory, err=%v", err)
	}

	if err := removeWorkspace(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("expected workspace removed")
	}

	// 空パスは何もしない
	if err := removeWorkspace(""); err != nil {
		t.Fatalf("unexpected error for empty dir: %v", err)
	}
}
