package transport

import "sync/atomic"

// IDs hands out connection handles shared by every adapter of one server so
// handles stay unique across transports.
type IDs struct {
	last atomic.Uint64
}

// Next returns a fresh, non-zero handle.
func (i *IDs) Next() ConnID {
	return ConnID(i.last.Add(1))
}
