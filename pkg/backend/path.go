package backend

import (
	"fmt"
	"strings"

	"github.com/surrealdb/canvassync/pkg/constants"
)

const forbiddenPathChars = ".#$[]"

// ValidatePath accepts "/" separated, non-empty segments free of ".#$[]".
// The empty path addresses the root.
func ValidatePath(path string) error {
	if path == "" {
		return nil
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			return fmt.Errorf("%w: empty segment in %q", constants.ErrInvalidPath, path)
		}
		if strings.ContainsAny(seg, forbiddenPathChars) {
			return fmt.Errorf("%w: %q contains one of %q", constants.ErrInvalidPath, path, forbiddenPathChars)
		}
	}
	return nil
}

// IsAncestor reports whether a is a strict ancestor of b.
func IsAncestor(a, b string) bool {
	if a == "" {
		return b != ""
	}
	return strings.HasPrefix(b, a+"/")
}

// Related reports whether a change at one path can affect the value at the other.
func Related(a, b string) bool {
	return a == b || IsAncestor(a, b) || IsAncestor(b, a)
}

// Parent returns the parent path and the last segment.
func Parent(path string) (string, string) {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}
