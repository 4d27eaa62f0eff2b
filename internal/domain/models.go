package domain

import (
	"fmt"
	"net/netip"
	"time"

	"go4.org/netipx"
)

// EpochTimestamp is the sentinel allocation time written for freshly
// provisioned addresses: "allocation time unknown".
var EpochTimestamp = time.Unix(0, 0).UTC()

// NetworkRange is an immutable IPv4 CIDR prefix.
type NetworkRange struct {
	prefix netip.Prefix
}

// ParseRange parses an IPv4 CIDR such as "172.18.0.0/15". The address must
// be the prefix base; host bits set after the prefix length are rejected.
func ParseRange(s string) (NetworkRange, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return NetworkRange{}, fmt.Errorf("%w: invalid cidr %q", ErrInvalidInput, s)
	}
	if !p.Addr().Is4() {
		return NetworkRange{}, fmt.Errorf("%w: %q is not an ipv4 range", ErrInvalidInput, s)
	}
	if p.Addr() != p.Masked().Addr() {
		return NetworkRange{}, fmt.Errorf("%w: %q has host bits set", ErrInvalidInput, s)
	}
	return NetworkRange{prefix: p}, nil
}

func (r NetworkRange) Prefix() netip.Prefix { return r.prefix }

func (r NetworkRange) String() string { return r.prefix.String() }

// HostCount returns the number of usable host addresses in the range.
// /31 point-to-point pairs and /32 single addresses count all members.
func (r NetworkRange) HostCount() int {
	switch bits := r.prefix.Bits(); {
	case bits == 32:
		return 1
	case bits == 31:
		return 2
	default:
		return (1 << (32 - bits)) - 2
	}
}

// Broadcast returns the highest address of the range.
func (r NetworkRange) Broadcast() netip.Addr {
	return netipx.RangeOfPrefix(r.prefix).To()
}

// Contains reports whether other is fully inside r.
func (r NetworkRange) Contains(other NetworkRange) bool {
	return r.prefix.Contains(other.prefix.Addr()) && r.prefix.Bits() <= other.prefix.Bits()
}

// AddressRecord is one row of the regional address inventory.
// The primary key is (Region, Address).
type AddressRecord struct {
	Region    string
	Address   uint32
	Timestamp time.Time
	InUse     bool
}

// Addr returns the record's address in netip form.
func (r AddressRecord) Addr() netip.Addr {
	return netip.AddrFrom4([4]byte{
		byte(r.Address >> 24), byte(r.Address >> 16), byte(r.Address >> 8), byte(r.Address),
	})
}

type Region struct {
	Name string
}

// AddrToUint32 converts an IPv4 address to its 32-bit integer form.
func AddrToUint32(a netip.Addr) uint32 {
	b := a.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
