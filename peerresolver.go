// SPDX-License-Identifier: GPL-3.0-or-later

package oncp

import (
	"context"
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// Resolver abstracts hostname resolution, allowing tests and callers to
// inject a fake without touching the system resolver. [*net.Resolver]
// satisfies this interface.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// PeerResolver resolves a gateway's hostname:port, remembering the last
// successfully connected address ("sticky peer") so that reconnects
// skip DNS entirely unless the gateway has announced dynamic DNS and
// there is no proxy in front of it.
//
// The zero value is not ready to use; construct with [NewPeerResolver].
type PeerResolver struct {
	// Resolver performs the actual hostname lookups. Defaults to
	// [net.DefaultResolver] when constructed via [NewPeerResolver].
	Resolver Resolver

	// DynDNS records whether the gateway declared its DNS may change
	// frequently, disabling sticky-peer reuse on reconnect unless a
	// proxy is in use (see [*PeerResolver.StickyEligible]).
	DynDNS bool

	// HasProxy records whether connections go through a proxy, in
	// which case the sticky peer is always eligible for reuse even
	// under DynDNS (the proxy, not this client, resolves the gateway).
	HasProxy bool

	sticky         *netip.AddrPort
	uniqueHostname string
}

// NewPeerResolver returns a [*PeerResolver] using [net.DefaultResolver].
func NewPeerResolver() *PeerResolver {
	return &PeerResolver{Resolver: net.DefaultResolver}
}

// StickyEligible reports whether a cached peer address may be reused
// without a fresh DNS lookup. Mirrors connect_https_socket's reuse
// condition: `!vpninfo->is_dyndns || vpninfo->proxy`.
func (r *PeerResolver) StickyEligible() bool {
	return !r.DynDNS || r.HasProxy
}

// Resolve returns the address to connect to for hostPort ("host:port" or
// "[v6]:port"). If a sticky peer is cached and eligible for reuse, it is
// returned without performing a DNS lookup. Otherwise hostPort is
// resolved fresh; bracketed IPv6 literals are unwrapped before the
// lookup and the numeric address is parsed directly without consulting
// the resolver at all, just as AI_NUMERICHOST would shortcut
// getaddrinfo.
//
// The unique_hostname used for authentication audit fields is recorded
// as a side effect: for literal/numeric hosts it mirrors the bracketed
// literal; for proxied connections it is left empty since the true peer
// IP is unknown to this client.
func (r *PeerResolver) Resolve(ctx context.Context, hostPort string) (netip.AddrPort, error) {
	if r.sticky != nil && r.StickyEligible() {
		return *r.sticky, nil
	}
	return r.resolveFresh(ctx, hostPort)
}

func (r *PeerResolver) resolveFresh(ctx context.Context, hostPort string) (netip.AddrPort, error) {
	host, port, err := net.SplitHostPort(hostPort)
	if err != nil {
		return netip.AddrPort{}, NewError(KindInvalidArg, "resolve", err)
	}

	bare := strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")

	if r.HasProxy {
		r.uniqueHostname = ""
	} else if addr, aerr := netip.ParseAddr(bare); aerr == nil && addr.Is6() {
		r.uniqueHostname = "[" + bare + "]"
	} else {
		r.uniqueHostname = bare
	}

	// AI_NUMERICHOST shortcut: a literal IP never touches the resolver.
	if addr, aerr := netip.ParseAddr(bare); aerr == nil {
		portNum, perr := parsePort(port)
		if perr != nil {
			return netip.AddrPort{}, NewError(KindInvalidArg, "resolve", perr)
		}
		return netip.AddrPortFrom(addr, portNum), nil
	}

	addrs, err := r.Resolver.LookupHost(ctx, bare)
	if err != nil {
		return netip.AddrPort{}, NewError(KindIo, "resolve", err)
	}
	if len(addrs) == 0 {
		return netip.AddrPort{}, NewError(KindNotFound, "resolve", errNoAddresses)
	}
	addr, err := netip.ParseAddr(addrs[0])
	if err != nil {
		return netip.AddrPort{}, NewError(KindIo, "resolve", err)
	}
	portNum, err := parsePort(port)
	if err != nil {
		return netip.AddrPort{}, NewError(KindInvalidArg, "resolve", err)
	}
	return netip.AddrPortFrom(addr, portNum), nil
}

// MarkConnected records addr as the sticky peer after a successful
// connect.
func (r *PeerResolver) MarkConnected(addr netip.AddrPort) {
	r.sticky = &addr
}

// Forget clears the cached sticky peer, e.g. when a cached address
// fails and a fresh getaddrinfo-equivalent lookup yielded the same
// address — retrying it again would only loop.
func (r *PeerResolver) Forget() {
	r.sticky = nil
}

// UniqueHostname returns the textual hostname recorded by the most
// recent fresh resolution, for use in authentication audit fields.
func (r *PeerResolver) UniqueHostname() string {
	return r.uniqueHostname
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, errInvalidPort
	}
	return uint16(n), nil
}

var errNoAddresses = portResolveErr("no addresses returned")
var errInvalidPort = portResolveErr("invalid port")

type portResolveErr string

func (e portResolveErr) Error() string { return string(e) }
