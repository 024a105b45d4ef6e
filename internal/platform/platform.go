// Package platform implements the platform shim interface described in the
// base spec §4.6: given assign_resource(rid, assign_to_me, resource), it
// installs or releases a resource's address on the local interface.
// Grounded on original_source/fechter/platform.py's
// AbstractPlatform/LinuxPlatform, reimplemented over internal/netlinkx's
// native rtnetlink+AF_PACKET calls instead of shelling out to ip(8)/arping(8).
package platform

import (
	"fmt"
	"net"
	"strings"
	"sync"

	"outrigger/internal/netlinkx"
)

// Shim is the capability set the protocol controller drives: it never
// inspects the installed set, only issues commands (see DESIGN.md's
// "Ownership of installed resources" note).
type Shim interface {
	// AssignResource installs resource on this host if assignToMe and it
	// is not already installed, releases it if !assignToMe and it is
	// currently installed, and is a no-op otherwise. resourceValue has the
	// "<ifname>:<ipv4>" shape from §6.
	AssignResource(rid string, assignToMe bool, resourceValue string)
}

// ValidateResourceValue checks that value has the "<ifname>:<ipv4>" shape
// §6 requires of a resource, without constructing a shim. Used by
// internal/httpapi to reject a malformed POST /resource body before it
// ever reaches the store.
func ValidateResourceValue(value string) error {
	_, _, err := parseResource(value)
	return err
}

// parseResource splits "<ifname>:<ipv4>" into its parts.
func parseResource(value string) (ifname string, ip net.IP, err error) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("malformed resource %q: want IFNAME:ADDRESS", value)
	}
	ip = net.ParseIP(parts[1]).To4()
	if ip == nil {
		return "", nil, fmt.Errorf("malformed resource %q: %q is not a valid IPv4 address", value, parts[1])
	}
	return parts[0], ip, nil
}

// LinuxShim installs/removes addresses via rtnetlink and gratuitous ARP.
// Errors are logged by ErrorLog (if set) and swallowed: per §7, installation
// failures are best-effort and retried on the next assign: echo.
type LinuxShim struct {
	mu        sync.Mutex
	installed map[string]string // rid -> resource value

	ErrorLog func(rid, op string, err error)
}

// NewLinuxShim constructs an empty shim.
func NewLinuxShim() *LinuxShim {
	return &LinuxShim{installed: make(map[string]string)}
}

func (s *LinuxShim) AssignResource(rid string, assignToMe bool, resourceValue string) {
	s.mu.Lock()
	_, isInstalled := s.installed[rid]
	if assignToMe && !isInstalled {
		s.installed[rid] = resourceValue
	} else if !assignToMe && isInstalled {
		delete(s.installed, rid)
	} else {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if assignToMe {
		go s.install(rid, resourceValue)
	} else {
		go s.release(rid, resourceValue)
	}
}

func (s *LinuxShim) install(rid, resourceValue string) {
	ifname, ip, err := parseResource(resourceValue)
	if err == nil {
		err = netlinkx.AddrAdd(ifname, ip)
	}
	if err != nil {
		// Forget the failed install so the next assign: echo tries again.
		s.mu.Lock()
		if v, ok := s.installed[rid]; ok && v == resourceValue {
			delete(s.installed, rid)
		}
		s.mu.Unlock()
		s.logErr(rid, "install", err)
		return
	}
	if err := netlinkx.GratuitousARP(ifname, ip); err != nil {
		s.logErr(rid, "install", fmt.Errorf("gratuitous arp: %w", err))
	}
}

func (s *LinuxShim) release(rid, resourceValue string) {
	ifname, ip, err := parseResource(resourceValue)
	if err != nil {
		s.logErr(rid, "release", err)
		return
	}
	if err := netlinkx.AddrDel(ifname, ip); err != nil {
		s.logErr(rid, "release", err)
	}
}

func (s *LinuxShim) logErr(rid, op string, err error) {
	if s.ErrorLog != nil {
		s.ErrorLog(rid, op, err)
	}
}

// Installed returns a snapshot of currently-installed resource ids, for
// diagnostics/tests only; the controller never calls this.
func (s *LinuxShim) Installed() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.installed))
	for k, v := range s.installed {
		out[k] = v
	}
	return out
}

// NullShim is a test/non-Linux implementation that records calls without
// touching the network.
type NullShim struct {
	mu        sync.Mutex
	installed map[string]string
	Calls     []Call
}

// Call records one AssignResource invocation, for assertions in tests.
type Call struct {
	RID        string
	AssignToMe bool
	Value      string
}

func NewNullShim() *NullShim {
	return &NullShim{installed: make(map[string]string)}
}

func (s *NullShim) AssignResource(rid string, assignToMe bool, resourceValue string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, Call{RID: rid, AssignToMe: assignToMe, Value: resourceValue})
	_, isInstalled := s.installed[rid]
	switch {
	case assignToMe && !isInstalled:
		s.installed[rid] = resourceValue
	case !assignToMe && isInstalled:
		delete(s.installed, rid)
	}
}

func (s *NullShim) Installed() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.installed))
	for k, v := range s.installed {
		out[k] = v
	}
	return out
}
