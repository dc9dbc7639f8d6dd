//go:build linux

package lik

import "golang.org/x/sys/unix"

// MADV_POPULATE_READ was added in Linux 5.14.
// On older kernels, madvise returns EINVAL which we ignore.
const madvPopulateRead = 22

// prefaultRegion asks the kernel to prefault pages of a read-only
// mapping, so the first query batches don't stall on major faults.
// On older kernels, madvise returns EINVAL which is silently ignored.
func prefaultRegion(data []byte) {
	if len(data) == 0 {
		return
	}
	// Best-effort: ignore all errors (EINVAL on old kernels, or other failures)
	_ = unix.Madvise(data, madvPopulateRead)
}
