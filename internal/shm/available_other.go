//go:build !linux

package shm

// AvailableSharedMemory always reports -1 ("unknown") on non-Linux
// platforms, matching the original's fallback for the same reason:
// there is no portable /dev/shm-style probe.
func AvailableSharedMemory() int64 {
	return -1
}
