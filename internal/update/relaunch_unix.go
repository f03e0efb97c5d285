//go:build unix

package update

import "golang.org/x/sys/unix"

// execSelf replaces the current process image; it only returns on failure.
func execSelf(path string, argv, env []string) error {
	return unix.Exec(path, argv, env)
}
