package hook

import (
	"path/filepath"
	"regexp"
	"strings"
)

var filePathRe = regexp.MustCompile(`(?:^|[\s(\[])(/[^\s` + "`" + `'"()\[\]]+)`)

// ExtractProjectFiles scans text for absolute paths that resolve within
// projectPath, returning them in first-seen order.
func ExtractProjectFiles(text, projectPath string) []string {
	if projectPath == "" {
		return nil
	}
	root, err := filepath.Abs(projectPath)
	if err != nil {
		return nil
	}

	var out []string
	seen := make(map[string]bool)
	for _, m := range filePathRe.FindAllStringSubmatch(text, -1) {
		candidate := strings.TrimRight(m[1], ".,:;)")
		abs, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true
		out = append(out, abs)
	}
	return out
}

// StripFilePaths removes each path in paths from text, then drops every
// blank line (including ones that were blank before the paths were removed).
func StripFilePaths(text string, paths []string) string {
	if len(paths) == 0 {
		return text
	}
	out := text
	for _, p := range paths {
		out = strings.ReplaceAll(out, p, "")
	}
	lines := strings.Split(out, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
