package core

import "fmt"

// IDPool hands out dense uint32 identifiers with slot reuse: released ids
// become available again before the table grows.
type IDPool struct {
	owners []interface{}
}

func NewIDPool(initialCapacity int) *IDPool {
	return &IDPool{owners: make([]interface{}, initialCapacity)}
}

// AcquireID takes the first free slot, growing the table when none is
// free.
func (p *IDPool) AcquireID(owner interface{}) uint32 {
	for i := range p.owners {
		// Existing free spot. Take it.
		if p.owners[i] == nil {
			p.owners[i] = owner
			return uint32(i)
		}
	}

	// No existing free slots; push a new id.
	p.owners = append(p.owners, owner)
	return uint32(len(p.owners) - 1)
}

// ReleaseID zeroes the entry, making the id available for reuse.
func (p *IDPool) ReleaseID(id uint32) error {
	if id >= uint32(len(p.owners)) {
		return fmt.Errorf("release_id: id '%d' out of range (max=%d); nothing was done", id, len(p.owners))
	}
	p.owners[id] = nil
	return nil
}

// Owner returns the value registered for an id, or nil.
func (p *IDPool) Owner(id uint32) interface{} {
	if id >= uint32(len(p.owners)) {
		return nil
	}
	return p.owners[id]
}
