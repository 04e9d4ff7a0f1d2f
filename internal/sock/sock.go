// File: internal/sock/sock.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Platform-neutral helpers shared by the per-OS socket files.

package sock

import (
	"net/netip"

	"github.com/momentics/hioload-net/api"
)

const listenBacklog = 512

// FamilyOf returns the address family an IP belongs to. IPv4-mapped IPv6
// addresses are reported as IPv6.
func FamilyOf(ip netip.Addr) api.NetFamily {
	if ip.Is4() {
		return api.FamilyIPv4
	}
	return api.FamilyIPv6
}

// Fail wraps a failed socket call into an *api.Error carrying both the
// portable code and the raw OS error number.
func Fail(op string, err error) error {
	if err == nil {
		return nil
	}
	code, sys := Resolve(err)
	return api.NewError(op, code, sys)
}
