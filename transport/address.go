// File: transport/address.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"net/netip"
	"strconv"

	"github.com/momentics/rxmux/api"
)

// ParseAddress converts a textual IPv4 or IPv6 address and a port into an
// address. It has no side effects on failure.
func ParseAddress(text string, port int) (netip.AddrPort, error) {
	if port < 0 || port > 0xffff {
		return netip.AddrPort{}, api.NewError(api.ErrCodeAddressParse, "parse address", nil).
			WithContext("port", port)
	}
	ip, err := netip.ParseAddr(text)
	if err != nil {
		return netip.AddrPort{}, api.NewError(api.ErrCodeAddressParse, "parse address", err).
			WithContext("addr", text)
	}
	return netip.AddrPortFrom(ip, uint16(port)), nil
}

// FormatAddress returns the textual IP of addr.
func FormatAddress(addr netip.AddrPort) string {
	if !addr.IsValid() {
		return "<bad address>"
	}
	return addr.Addr().String()
}

// PortOf returns the port of addr in host order.
func PortOf(addr netip.AddrPort) int {
	return int(addr.Port())
}

// JoinHostPort formats addr as host:port, bracketing IPv6 hosts.
func JoinHostPort(addr netip.AddrPort) string {
	if !addr.IsValid() {
		return FormatAddress(addr) + ":" + strconv.Itoa(PortOf(addr))
	}
	return addr.String()
}

// FamilyOf reports the family addr belongs to. IPv4-mapped IPv6 addresses
// count as IPv6.
func FamilyOf(addr netip.AddrPort) Family {
	if addr.Addr().Is4() {
		return FamilyIPv4
	}
	return FamilyIPv6
}
