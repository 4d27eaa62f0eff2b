package domain

import (
	"fmt"
	"iter"
)

type diffOptions struct {
	includeBroadcast bool
}

type DiffOption func(*diffOptions)

// IncludeBroadcast makes the delta include the expanded range's broadcast
// address in addition to its usable hosts.
func IncludeBroadcast() DiffOption {
	return func(o *diffOptions) { o.includeBroadcast = true }
}

// Delta is the ordered set of addresses available in an expanded range but
// not usable in the current one. It holds at most two contiguous spans, so
// it stays constant-size regardless of how many addresses it describes.
type Delta struct {
	spans [][2]uint32
}

// RangeDiff computes the delta between expanded and current. The expanded
// range must contain the current range; pairs that are not supersets are
// rejected with ErrNotSuperset rather than diffed best-effort.
//
// An address is part of the delta when it is a host of expanded (plus the
// broadcast, if requested) and not a host of current. The current range's
// own network and broadcast addresses become usable after the expansion and
// are therefore part of the delta.
func RangeDiff(expanded, current NetworkRange, opts ...DiffOption) (Delta, error) {
	var o diffOptions
	for _, opt := range opts {
		opt(&o)
	}

	if !expanded.Contains(current) {
		return Delta{}, fmt.Errorf("%w: %s does not contain %s", ErrNotSuperset, expanded, current)
	}

	expFrom, expTo := hostSpan(expanded)
	if o.includeBroadcast && expanded.prefix.Bits() <= 30 {
		expTo++
	}
	curFrom, curTo := hostSpan(current)

	return Delta{spans: subtractSpan(expFrom, expTo, curFrom, curTo)}, nil
}

// Count returns the number of addresses in the delta.
func (d Delta) Count() int {
	n := 0
	for _, s := range d.spans {
		n += int(s[1]-s[0]) + 1
	}
	return n
}

// Addresses returns the delta as a lazily produced ascending sequence.
// The sequence is restartable; ranging over it has no side effects.
func (d Delta) Addresses() iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		for _, s := range d.spans {
			for a := s[0]; ; a++ {
				if !yield(a) {
					return
				}
				if a == s[1] {
					break
				}
			}
		}
	}
}

// hostSpan returns the inclusive span of usable host addresses.
func hostSpan(r NetworkRange) (uint32, uint32) {
	base := AddrToUint32(r.prefix.Addr())
	switch bits := r.prefix.Bits(); {
	case bits == 32:
		return base, base
	case bits == 31:
		return base, base + 1
	default:
		return base + 1, base + uint32(1<<(32-bits)) - 2
	}
}

// subtractSpan removes [cutFrom, cutTo] from [from, to], both inclusive,
// yielding zero, one or two remaining spans in ascending order.
func subtractSpan(from, to, cutFrom, cutTo uint32) [][2]uint32 {
	var spans [][2]uint32
	if cutTo < from || cutFrom > to {
		return [][2]uint32{{from, to}}
	}
	if cutFrom > from {
		spans = append(spans, [2]uint32{from, cutFrom - 1})
	}
	if cutTo < to {
		spans = append(spans, [2]uint32{cutTo + 1, to})
	}
	return spans
}
