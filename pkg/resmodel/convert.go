package resmodel

// Cross-backend weight conversions. Docker and systemd use different
// scales for the same relative-share primitives; these formulas are the
// single source of truth for both compilers.
//
// The io_weight -> blkio -> io_weight round trip loses the last decimal
// digit (floor to the nearest multiple of 10); the cpu round trip is
// only approximately faithful. Both are intentional: rounding always
// under-allocates rather than over-allocates.

// Legal ranges per backend.
const (
	CPUWeightMin = 1
	CPUWeightMax = 10000

	BlkioWeightMin = 10
	BlkioWeightMax = 1000

	IOWeightMin = 1
	IOWeightMax = 10000
)

// DockerSharesFromWeight converts a systemd CPUWeight (1..10000) to
// Docker cpu-shares on the 1024 scale: floor(weight/100*1024).
func DockerSharesFromWeight(weight uint64) uint64 {
	return weight * 1024 / 100
}

// SystemdWeightFromShares converts Docker cpu-shares to a systemd
// CPUWeight: clamp(floor(shares/1024*100), 1, 10000).
func SystemdWeightFromShares(shares uint64) uint64 {
	return Clamp(shares*100/1024, CPUWeightMin, CPUWeightMax)
}

// DockerBlkioFromIOWeight converts a cgroup-v2 IOWeight (1..10000) to
// Docker blkio-weight: clamp(floor(io/10), 10, 1000).
func DockerBlkioFromIOWeight(io uint64) uint64 {
	return Clamp(io/10, BlkioWeightMin, BlkioWeightMax)
}

// SystemdIOWeightFromBlkio converts Docker blkio-weight to a cgroup-v2
// IOWeight: clamp(floor(blkio/1000*10000), 1, 10000). This is not the
// exact inverse of DockerBlkioFromIOWeight; the asymmetry is shipped
// behavior, covered by tests.
func SystemdIOWeightFromBlkio(blkio uint64) uint64 {
	return Clamp(blkio*10000/1000, IOWeightMin, IOWeightMax)
}
