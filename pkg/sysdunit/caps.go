package sysdunit

import (
	"fmt"
	"sort"
	"strings"
)

// boundingSet is the complete Linux capability bounding set. cap_drop
// removes names from this list; cap_add re-adds them afterwards.
var boundingSet = []string{
	"CAP_AUDIT_CONTROL", "CAP_AUDIT_READ", "CAP_AUDIT_WRITE",
	"CAP_BLOCK_SUSPEND", "CAP_BPF", "CAP_CHECKPOINT_RESTORE",
	"CAP_CHOWN", "CAP_DAC_OVERRIDE", "CAP_DAC_READ_SEARCH",
	"CAP_FOWNER", "CAP_FSETID", "CAP_IPC_LOCK", "CAP_IPC_OWNER",
	"CAP_KILL", "CAP_LEASE", "CAP_LINUX_IMMUTABLE",
	"CAP_MAC_ADMIN", "CAP_MAC_OVERRIDE", "CAP_MKNOD",
	"CAP_NET_ADMIN", "CAP_NET_BIND_SERVICE", "CAP_NET_BROADCAST", "CAP_NET_RAW",
	"CAP_PERFMON", "CAP_SETFCAP", "CAP_SETGID", "CAP_SETPCAP", "CAP_SETUID",
	"CAP_SYS_ADMIN", "CAP_SYS_BOOT", "CAP_SYS_CHROOT", "CAP_SYS_MODULE",
	"CAP_SYS_NICE", "CAP_SYS_PACCT", "CAP_SYS_PTRACE", "CAP_SYS_RAWIO",
	"CAP_SYS_RESOURCE", "CAP_SYS_TIME", "CAP_SYS_TTY_CONFIG",
	"CAP_SYSLOG", "CAP_WAKE_ALARM",
}

// normalizeCap accepts both Docker ("NET_ADMIN", "ALL") and kernel
// ("CAP_NET_ADMIN") spellings.
func normalizeCap(name string) string {
	n := strings.ToUpper(strings.TrimSpace(name))
	if n == "" || n == "ALL" {
		return n
	}
	if !strings.HasPrefix(n, "CAP_") {
		n = "CAP_" + n
	}
	return n
}

// capabilityBoundingSet computes the CapabilityBoundingSet value:
// the full bounding set minus cap_drop, plus cap_add, space-joined and
// sorted. Returns ok=false when cap_drop is empty (nothing to narrow).
func capabilityBoundingSet(drop, add []string) (string, bool) {
	if len(drop) == 0 {
		return "", false
	}

	dropped := make(map[string]bool, len(drop))
	dropAll := false
	for _, d := range drop {
		n := normalizeCap(d)
		if n == "ALL" {
			dropAll = true
			continue
		}
		dropped[n] = true
	}

	kept := make(map[string]bool, len(boundingSet))
	if !dropAll {
		for _, c := range boundingSet {
			if !dropped[c] {
				kept[c] = true
			}
		}
	}
	for _, a := range add {
		n := normalizeCap(a)
		if n == "" || n == "ALL" {
			continue
		}
		kept[n] = true
	}

	names := make([]string, 0, len(kept))
	for c := range kept {
		names = append(names, c)
	}
	sort.Strings(names)
	return strings.Join(names, " "), true
}

// ambientCapabilities renders cap_add when nothing was dropped: the
// bounding set stays full and the additions become ambient caps.
func ambientCapabilities(add []string) (string, bool) {
	if len(add) == 0 {
		return "", false
	}
	names := make([]string, 0, len(add))
	seen := make(map[string]bool, len(add))
	for _, a := range add {
		n := normalizeCap(a)
		if n == "" || n == "ALL" || seen[n] {
			continue
		}
		seen[n] = true
		names = append(names, n)
	}
	if len(names) == 0 {
		return "", false
	}
	sort.Strings(names)
	return strings.Join(names, " "), true
}

// deviceAllowDirectives reinterprets Docker device mappings
// (host:container[:perm]) as DeviceAllow directives. The host path is
// what the cgroup filter sees; the last colon-segment is the permission
// string when it looks like one, otherwise rwm.
func deviceAllowDirectives(devices []string) Directives {
	var out Directives
	for i, d := range devices {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		parts := strings.Split(d, ":")
		path := parts[0]
		perm := "rwm"
		if len(parts) > 1 {
			if last := parts[len(parts)-1]; isPermString(last) {
				perm = last
			}
		}
		out = append(out, Directive{
			Name:  fmt.Sprintf("DeviceAllow_%d", i),
			Value: fmt.Sprintf("%s %s", path, perm),
		})
	}
	return out
}

func isPermString(s string) bool {
	if s == "" || len(s) > 3 {
		return false
	}
	for _, r := range s {
		if r != 'r' && r != 'w' && r != 'm' {
			return false
		}
	}
	return true
}
