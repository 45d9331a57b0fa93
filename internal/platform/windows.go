//go:build windows

package platform

import (
	"path/filepath"
	"strings"
)

// LongPathname ensures Windows paths handle the extended length prefix, so
// deep scratch trees and long patch names survive the MAX_PATH limit.
func LongPathname(path string) string {
	if len(path) < 2 || path[1] != ':' {
		return path
	}
	if filepath.IsAbs(path) && !strings.HasPrefix(path, `\\?\`) {
		return `\\?\` + filepath.Clean(path)
	}
	return path
}
