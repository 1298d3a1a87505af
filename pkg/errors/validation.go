package errors

import (
	"regexp"
	"strings"
	"unicode"
)

// ValidatePackageName validates a package name for safety and correctness.
// Registry-supplied names end up in URLs and workspace paths, so names that
// could be used for path traversal or injection are rejected.
//
// The validation rules are intentionally conservative:
//   - No empty names
//   - No control characters
//   - No path traversal sequences (.., //, etc.)
//   - No null bytes
//   - Maximum length of 256 characters
func ValidatePackageName(name string) error {
	if name == "" {
		return New(ErrCodeInvalidPackage, "package name cannot be empty")
	}

	if len(name) > 256 {
		return New(ErrCodeInvalidPackage, "package name too long (max 256 characters)")
	}

	for _, r := range name {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidPackage, "package name contains invalid control characters")
		}
	}

	dangerousPatterns := []string{
		"..",   // Parent directory
		"//",   // Double slash
		"\x00", // Null byte
		"\\",   // Backslash (Windows path)
		"/",    // Path separator
	}

	for _, pattern := range dangerousPatterns {
		if strings.Contains(name, pattern) {
			return New(ErrCodeInvalidPackage, "package name contains invalid characters: %q", pattern)
		}
	}

	return nil
}

// ValidatePath validates a file path inside a package archive.
// It prevents path traversal and ensures reasonable path length.
//
// Validation rules:
//   - Path cannot be empty
//   - Maximum length of 500 characters
//   - No null bytes or control characters
//   - No absolute paths (must be relative)
//   - No path traversal sequences (..)
//   - No backslashes (Windows-style paths)
func ValidatePath(path string) error {
	if path == "" {
		return New(ErrCodeInvalidPath, "path cannot be empty")
	}

	const maxPathLength = 500
	if len(path) > maxPathLength {
		return New(ErrCodeInvalidPath, "path too long (max %d characters)", maxPathLength)
	}

	for _, r := range path {
		if r == '\x00' || unicode.IsControl(r) {
			return New(ErrCodeInvalidPath, "path contains invalid characters")
		}
	}

	if strings.HasPrefix(path, "/") {
		return New(ErrCodeInvalidPath, "path must be relative (cannot start with /)")
	}

	for _, part := range strings.Split(path, "/") {
		if part == ".." {
			return New(ErrCodeInvalidPath, "path cannot contain path traversal sequences (..)")
		}
	}

	if strings.Contains(path, "\\") {
		return New(ErrCodeInvalidPath, "path cannot contain backslashes")
	}

	return nil
}

// ValidateURL validates a URL string for safety.
// It ensures the URL has a safe scheme (http or https).
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return New(ErrCodeInvalidInput, "URL cannot be empty")
	}

	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return New(ErrCodeInvalidInput, "URL must use http or https scheme")
	}

	return nil
}

// cratesPackageNameRegex matches valid crates.io package names.
var cratesPackageNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// ValidateCratesPackageName validates a crates.io package name.
func ValidateCratesPackageName(name string) error {
	if err := ValidatePackageName(name); err != nil {
		return err
	}

	if !cratesPackageNameRegex.MatchString(name) {
		return New(ErrCodeInvalidPackage, "invalid crates.io package name: %q", name)
	}

	return nil
}

// crateVersionRegex matches semver versions as published on crates.io,
// including pre-release and build metadata.
var crateVersionRegex = regexp.MustCompile(`^[0-9]+\.[0-9]+\.[0-9]+([-+][0-9A-Za-z.+-]+)?$`)

// ValidateCrateVersion validates a crates.io version string.
func ValidateCrateVersion(version string) error {
	if !crateVersionRegex.MatchString(version) {
		return New(ErrCodeInvalidPackage, "invalid crate version: %q", version)
	}
	return nil
}

var (
	// repositoryRegex matches GitHub owner/name pairs.
	repositoryRegex = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]*[A-Za-z0-9])?/[A-Za-z0-9._-]+$`)

	// gitRefRegex matches branch and tag names that fit a single URL path
	// segment.
	gitRefRegex = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
)

// ValidateRepository validates a GitHub repository given as owner/name.
func ValidateRepository(repo string) error {
	if err := ValidatePath(repo); err != nil {
		return New(ErrCodeInvalidPackage, "invalid repository %q", repo)
	}
	if !repositoryRegex.MatchString(repo) {
		return New(ErrCodeInvalidPackage, "invalid repository %q, want owner/name", repo)
	}
	_, name, _ := strings.Cut(repo, "/")
	if name == "." || name == ".." {
		return New(ErrCodeInvalidPackage, "invalid repository %q", repo)
	}
	return nil
}

// ValidateGitRef validates a branch or tag name used in an archive URL.
func ValidateGitRef(ref string) error {
	if !gitRefRegex.MatchString(ref) || strings.Contains(ref, "..") {
		return New(ErrCodeInvalidPackage, "invalid git ref %q", ref)
	}
	return nil
}
