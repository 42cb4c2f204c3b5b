package storage

import (
	"strings"

	"github.com/codemode-ai/codemode/pkg/errors"
)

// ValidateName rejects names that could escape the store: empty names,
// path-traversal components, absolute paths, and backslashes. Forward
// slashes are allowed so artifacts can use sub-paths like "scans/nmap.json".
func ValidateName(name string) error {
	if name == "" {
		return errors.NewInvalidName("name is empty", nil)
	}
	if strings.HasPrefix(name, "/") {
		return errors.Newf(errors.KindInvalidName, "name %q is absolute", name)
	}
	if strings.Contains(name, "\\") {
		return errors.Newf(errors.KindInvalidName, "name %q contains a backslash", name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return errors.Newf(errors.KindInvalidName, "name %q contains a path-traversal component", name)
		}
		if part == "" {
			return errors.Newf(errors.KindInvalidName, "name %q contains an empty path component", name)
		}
	}
	return nil
}

// ValidateFlatName is ValidateName with slashes also rejected, for stores
// whose namespace is flat (tools, skills, deps).
func ValidateFlatName(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if strings.Contains(name, "/") {
		return errors.Newf(errors.KindInvalidName, "name %q contains a slash", name)
	}
	return nil
}
