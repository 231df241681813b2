package middleware

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Input validation for the scan trigger endpoint. Tool argv lines are
// assembled from these values, so shell metacharacters are rejected
// outright even though nothing goes through a shell.

var profileNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidateProfileName checks profile name format
func ValidateProfileName(profile string) error {
	if !profileNamePattern.MatchString(profile) {
		return fmt.Errorf("invalid profile name (alphanumeric, dash, underscore only, max 64 chars)")
	}
	return nil
}

var branchPattern = regexp.MustCompile(`^[a-zA-Z0-9._/-]{1,255}$`)

// ValidateBranch checks git branch name format. Empty is allowed.
func ValidateBranch(branch string) error {
	if branch == "" {
		return nil
	}
	if strings.Contains(branch, "..") {
		return fmt.Errorf("invalid branch name")
	}
	if !branchPattern.MatchString(branch) {
		return fmt.Errorf("invalid branch name (alphanumeric, dot, dash, underscore, slash only, max 255 chars)")
	}
	return nil
}

// ValidateTarget checks the scan target: a local path or an http(s) URL.
func ValidateTarget(target string) error {
	if target == "" {
		return fmt.Errorf("target cannot be empty")
	}

	// Block dangerous patterns
	dangerous := []string{"$(", "`", "&", "|", ";", "\n", "\r", "\x00"}
	for _, d := range dangerous {
		if strings.Contains(target, d) {
			return fmt.Errorf("invalid characters in target")
		}
	}

	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return nil
	}

	// Local path: block traversal and sensitive roots
	cleaned := filepath.Clean(target)
	if strings.Contains(cleaned, "..") {
		return fmt.Errorf("path traversal detected")
	}
	blocked := []string{"/etc", "/proc", "/sys", "/dev", "/root", "/boot"}
	for _, b := range blocked {
		if cleaned == b || strings.HasPrefix(cleaned, b+"/") {
			return fmt.Errorf("access to %s is not allowed", b)
		}
	}

	return nil
}

// SanitizeString removes null bytes and control characters
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}

	return strings.TrimSpace(result.String())
}
