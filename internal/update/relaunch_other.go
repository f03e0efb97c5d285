//go:build !unix

package update

func execSelf(path string, argv, env []string) error {
	return ErrWindowsNoAutoUpdate
}
