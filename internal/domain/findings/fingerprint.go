package findings

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strconv"
	"strings"
)

// Fingerprint derives the stable identity hash of a finding from the
// tuple (tool, rule, path, start line, message). The same tuple always
// hashes to the same id across runs, which is what makes cross-scan
// diffing by fingerprint sets sound. Any single component changing
// (the same rule firing one line lower, say) yields a new id.
func Fingerprint(tool, ruleID, path string, startLine int, message string) string {
	parts := []string{
		tool,
		ruleID,
		NormalizePath(path),
		strconv.Itoa(startLine),
		message,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// NormalizePath canonicalizes a file path before it enters a fingerprint
// so that "./pkg\main.go" and "pkg/main.go" identify the same file.
func NormalizePath(p string) string {
	p = filepath.ToSlash(strings.TrimSpace(p))
	if p == "" {
		return ""
	}
	p = strings.TrimPrefix(p, "./")
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return p
}
