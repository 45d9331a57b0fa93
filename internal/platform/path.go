//go:build !windows

package platform

// LongPathname passes paths through unchanged; only Windows needs the
// extended-length prefix for deep scratch trees.
func LongPathname(path string) string {
	return path
}
