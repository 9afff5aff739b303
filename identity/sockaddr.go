/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package identity

import (
	"fmt"
	"net/netip"
)

// SocketAddrBi is a remote locator with two ports: the peer's well-known
// listen port and the ephemeral port it dialed us from, when known.
// A peer behind NAT may accept on one port and dial from another, so
// equality and hashing are over the IP only.
type SocketAddrBi struct {
	IP           netip.Addr
	ListenPort   uint16
	IncomingPort uint16 // 0 when unknown
}

// NewSocketAddrBi builds a locator. Pass incoming=0 when the dialing port
// is not known.
func NewSocketAddrBi(ip netip.Addr, listen, incoming uint16) SocketAddrBi {
	return SocketAddrBi{IP: ip.Unmap(), ListenPort: listen, IncomingPort: incoming}
}

// Key returns the map key the address book hashes this locator by
func (s SocketAddrBi) Key() netip.Addr {
	return s.IP.Unmap()
}

// Same reports locator equality, which is IP equality
func (s SocketAddrBi) Same(o SocketAddrBi) bool {
	return s.Key() == o.Key()
}

// ListenAddrPort returns the dialable ip:listen-port pair
func (s SocketAddrBi) ListenAddrPort() netip.AddrPort {
	return netip.AddrPortFrom(s.IP, s.ListenPort)
}

func (s SocketAddrBi) String() string {
	if s.IncomingPort == 0 {
		return fmt.Sprintf("%s listen=%d", s.IP, s.ListenPort)
	}
	return fmt.Sprintf("%s listen=%d incoming=%d", s.IP, s.ListenPort, s.IncomingPort)
}
