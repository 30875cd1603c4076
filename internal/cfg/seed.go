package cfg

import "fmt"

// Seed forces recovery of a function at addr and returns it.
//
//   - addr is an existing function entry: that function.
//   - addr is an instruction boundary inside a known block: the earliest
//     registered function owning the block. Nothing is split.
//   - addr is inside an instruction of a known block: a new function whose
//     entry block overlaps the existing one. Such a function may own both
//     blocks when its path reaches back into the existing block, so its
//     blocks are not guaranteed to be disjoint.
//   - addr is not covered: a new function recovered from addr.
//
// Direct call targets found while recovering the new function are
// registered as functions too.
func (c *CodeObject) Seed(addr uint64) (*Function, error) {
	if !c.img.InCode(addr) {
		return nil, fmt.Errorf("seed %#x: %w", addr, ErrNotCode)
	}
	if f, ok := c.byEntry[addr]; ok {
		return f, nil
	}

	if b := c.covering(addr); b != nil {
		if b.Start == addr || c.onBoundary(b, addr) {
			if f := c.firstOwner(b); f != nil {
				c.log.Debug("seed reuses function", "addr", hex(addr), "entry", hex(f.Entry))
				return f, nil
			}
			// An orphaned block start; adopt it as a function entry.
			if b.Start == addr {
				return c.seedFunction(addr), nil
			}
		} else {
			c.log.Debug("seed inside instruction, decoding overlapping block", "addr", hex(addr), "block", hex(b.Start))
			c.decodeBlock(addr, false)
			return c.seedFunction(addr), nil
		}
	}

	f := c.startFunction(addr, OriginSeed)
	c.run()
	if f == nil {
		return nil, fmt.Errorf("seed %#x: not on an instruction boundary", addr)
	}
	return f, nil
}

func (c *CodeObject) seedFunction(addr uint64) *Function {
	f := c.register(addr, OriginSeed)
	c.explore()
	c.run()
	return f
}

// covering returns a block containing addr or starting at it.
func (c *CodeObject) covering(addr uint64) *Block {
	if b, ok := c.byStart[addr]; ok {
		return b
	}
	return c.spanAt(addr)
}

func (c *CodeObject) firstOwner(b *Block) *Function {
	for _, f := range c.funcs {
		for _, fb := range f.blocks {
			if fb == b {
				return f
			}
		}
	}
	return nil
}
