// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package models

import (
	"net/netip"
	"strings"
)

// NormalizeIdentity canonicalizes a source identity so that trivially
// different spellings of the same source collapse to one value:
//
//	" Alice@Example.COM " -> "alice@example.com"
//	"10.0.0.1:51234"      -> "10.0.0.1"
//	"[2001:DB8::1]:443"   -> "2001:db8::1"
//	"::ffff:10.0.0.1"     -> "10.0.0.1"
func NormalizeIdentity(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	if strings.Contains(s, "@") {
		return s
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return canonicalAddr(ap.Addr())
	}
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		s = s[1 : len(s)-1]
	}
	if addr, err := netip.ParseAddr(s); err == nil {
		return canonicalAddr(addr)
	}
	return s
}

func canonicalAddr(addr netip.Addr) string {
	return addr.Unmap().WithZone("").String()
}
