// Package netlinkx provides the minimal Linux rtnetlink client the platform
// shim needs: adding and removing a single IPv4 address on a named
// interface, and listing an interface's current addresses.
//
// Why not vishvananda/netlink?
//
//	vishvananda/netlink requires golang.org/x/sys, which in turn adds CGO
//	build constraints and a large external dependency. For the handful of
//	ip(8)-equivalent calls the platform shim needs (addr add/del/list), raw
//	rtnetlink via the stdlib syscall package is sufficient.
package netlinkx

import (
	"encoding/binary"
	"fmt"
	"net"
	"syscall"
	"unsafe"
)

const (
	rtmFlagCreate    = 0x400 // NLM_F_CREATE
	rtScopeUniverse  = 0
	ifaFlagPermanent = 0x80
)

// AddrInfo is returned by AddrList.
type AddrInfo struct {
	IP   net.IP
	CIDR *net.IPNet
}

func nlSocket() (int, error) {
	fd, err := syscall.Socket(syscall.AF_NETLINK, syscall.SOCK_RAW|syscall.SOCK_CLOEXEC, syscall.NETLINK_ROUTE)
	if err != nil {
		return 0, fmt.Errorf("netlink socket: %w", err)
	}
	lsa := &syscall.SockaddrNetlink{Family: syscall.AF_NETLINK}
	if err := syscall.Bind(fd, lsa); err != nil {
		syscall.Close(fd)
		return 0, fmt.Errorf("netlink bind: %w", err)
	}
	return fd, nil
}

// nlAttr builds a netlink attribute header + data, padded to 4-byte alignment.
func nlAttr(typ uint16, data []byte) []byte {
	length := 4 + len(data)
	padded := (length + 3) &^ 3
	buf := make([]byte, padded)
	binary.LittleEndian.PutUint16(buf[0:], uint16(length))
	binary.LittleEndian.PutUint16(buf[2:], typ)
	copy(buf[4:], data)
	return buf
}

// sendrecv sends a netlink request and returns all response messages.
func sendrecv(fd int, msgType uint16, flags uint16, family uint8, payload []byte) ([]syscall.NetlinkMessage, error) {
	seq := uint32(1)
	msg := make([]byte, syscall.NLMSG_HDRLEN+len(payload))
	hdr := (*syscall.NlMsghdr)(unsafe.Pointer(&msg[0]))
	hdr.Len = uint32(len(msg))
	hdr.Type = msgType
	hdr.Flags = flags | syscall.NLM_F_REQUEST
	hdr.Seq = seq
	copy(msg[syscall.NLMSG_HDRLEN:], payload)

	dst := &syscall.SockaddrNetlink{Family: syscall.AF_NETLINK}
	if err := syscall.Sendto(fd, msg, 0, dst); err != nil {
		return nil, fmt.Errorf("netlink send: %w", err)
	}

	var msgs []syscall.NetlinkMessage
	buf := make([]byte, 65536)
	for {
		n, _, err := syscall.Recvfrom(fd, buf, 0)
		if err != nil {
			return nil, fmt.Errorf("netlink recv: %w", err)
		}
		parsed, err := syscall.ParseNetlinkMessage(buf[:n])
		if err != nil {
			return nil, fmt.Errorf("netlink parse: %w", err)
		}
		for _, m := range parsed {
			if m.Header.Type == syscall.NLMSG_DONE {
				return msgs, nil
			}
			if m.Header.Type == syscall.NLMSG_ERROR {
				if len(m.Data) < 4 {
					return nil, fmt.Errorf("netlink: NLMSG_ERROR with truncated payload (%d bytes)", len(m.Data))
				}
				e := (*syscall.NlMsgerr)(unsafe.Pointer(&m.Data[0]))
				if e.Error == 0 {
					return msgs, nil // ACK
				}
				return nil, fmt.Errorf("netlink error: %w", syscall.Errno(-e.Error))
			}
			msgs = append(msgs, m)
		}
		if flags&syscall.NLM_F_DUMP == 0 {
			return msgs, nil
		}
	}
}

// ifIndexByName returns the kernel interface index for a named interface.
func ifIndexByName(name string) (int, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return 0, fmt.Errorf("interface %q not found: %w", name, err)
	}
	return iface.Index, nil
}

// AddrAdd adds a /32 IPv4 address to an interface (ip addr add ADDR/32 dev IFACE).
func AddrAdd(ifaceName string, ip net.IP) error {
	ip = ip.To4()
	if ip == nil {
		return fmt.Errorf("only IPv4 is supported")
	}
	idx, err := ifIndexByName(ifaceName)
	if err != nil {
		return err
	}

	fd, err := nlSocket()
	if err != nil {
		return err
	}
	defer syscall.Close(fd)

	// ifa_msg: family(1) + prefixlen(1) + flags(1) + scope(1) + index(4)
	header := []byte{
		syscall.AF_INET,
		32,
		ifaFlagPermanent,
		rtScopeUniverse,
		0, 0, 0, 0,
	}
	binary.LittleEndian.PutUint32(header[4:], uint32(idx))

	payload := header
	payload = append(payload, nlAttr(syscall.IFA_LOCAL, ip)...)
	payload = append(payload, nlAttr(syscall.IFA_ADDRESS, ip)...)

	_, err = sendrecv(fd, syscall.RTM_NEWADDR, rtmFlagCreate|syscall.NLM_F_ACK, syscall.AF_INET, payload)
	return err
}

// AddrDel removes a /32 IPv4 address from an interface (ip addr del ADDR/32 dev IFACE).
func AddrDel(ifaceName string, ip net.IP) error {
	ip = ip.To4()
	if ip == nil {
		return fmt.Errorf("only IPv4 is supported")
	}
	idx, err := ifIndexByName(ifaceName)
	if err != nil {
		return err
	}
	fd, err := nlSocket()
	if err != nil {
		return err
	}
	defer syscall.Close(fd)

	header := []byte{
		syscall.AF_INET, 32, 0, rtScopeUniverse,
		0, 0, 0, 0,
	}
	binary.LittleEndian.PutUint32(header[4:], uint32(idx))
	payload := header
	payload = append(payload, nlAttr(syscall.IFA_LOCAL, ip)...)

	_, err = sendrecv(fd, syscall.RTM_DELADDR, syscall.NLM_F_ACK, syscall.AF_INET, payload)
	return err
}

// AddrList returns the addresses assigned to an interface.
func AddrList(ifaceName string) ([]AddrInfo, error) {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("interface %q not found: %w", ifaceName, err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("list addresses on %q: %w", ifaceName, err)
	}
	var result []AddrInfo
	for _, a := range addrs {
		if v, ok := a.(*net.IPNet); ok {
			result = append(result, AddrInfo{IP: v.IP, CIDR: v})
		}
	}
	return result, nil
}
