//go:build linux || darwin

package health

import "golang.org/x/sys/unix"

// DirUsage reports used and total bytes on the filesystem holding dir
func DirUsage(dir string) func() (used, total uint64, err error) {
	return func() (uint64, uint64, error) {
		var st unix.Statfs_t
		if err := unix.Statfs(dir, &st); err != nil {
			return 0, 0, err
		}
		total := uint64(st.Blocks) * uint64(st.Bsize)
		free := uint64(st.Bavail) * uint64(st.Bsize)
		return total - free, total, nil
	}
}
