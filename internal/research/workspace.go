package research

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// safeTarget はターゲット名をディレクトリ名に使える形へ正規化します。
func safeTarget(target string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(target)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			sb.WriteRune('_')
		}
	}
	name := sb.String()
	if name == "" {
		name = "target"
	}
	if len(name) > 40 {
		name = name[:40]
	}
	return name
}

// workspaceDir はジョブの作業ディレクトリパスを組み立てます。
// research_<target>_<jobIDの先頭8文字> の形式です。
func workspaceDir(baseDir, target, jobID string) string {
	short := jobID
	if len(short) > 8 {
		short = short[:8]
	}
	return filepath.Join(baseDir, fmt.Sprintf("research_%s_%s", safeTarget(target), short))
}

// createWorkspace は作業ディレクトリとページ用サブディレクトリを作成します。
func createWorkspace(baseDir, target, jobID string) (string, error) {
	dir := workspaceDir(baseDir, target, jobID)
	if err := os.MkdirAll(filepath.Join(dir, "03_pages"), 0755); err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}
	return dir, nil
}

// removeWorkspace は作業ディレクトリを丸ごと削除します。
func removeWorkspace(dir string) error {
	if dir == "" {
		return nil
	}
	return os.RemoveAll(dir)
}
