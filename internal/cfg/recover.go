package cfg

import (
	"errors"

	"disassemble/internal/disasm"
)

// Parse recovers functions from every static seed of the image: entry
// points, then function symbols, then direct call targets as they are
// found. It returns the number of functions registered.
func (c *CodeObject) Parse() int {
	entries := make(map[uint64]bool, len(c.img.Entries))
	for _, e := range c.img.Entries {
		entries[e] = true
	}
	for _, addr := range c.img.Seeds() {
		origin := OriginSymbol
		if entries[addr] {
			origin = OriginEntry
		}
		c.queue = append(c.queue, seed{addr: addr, origin: origin})
	}
	before := len(c.funcs)
	c.run()
	c.log.Debug("parse done", "functions", len(c.funcs), "blocks", len(c.blocks))
	return len(c.funcs) - before
}

// run drains the seed queue, parsing each function to completion before
// starting the next.
func (c *CodeObject) run() {
	for len(c.queue) > 0 {
		s := c.queue[0]
		c.queue = c.queue[1:]
		c.startFunction(s.addr, s.origin)
	}
	c.finalize()
}

func (c *CodeObject) startFunction(addr uint64, origin Origin) *Function {
	if f, ok := c.byEntry[addr]; ok {
		return f
	}
	if c.ensureBlock(addr) == nil {
		c.log.Warn("seed is not on an instruction boundary, dropped", "addr", hex(addr), "origin", origin)
		return nil
	}
	f := c.register(addr, origin)
	c.explore()
	return f
}

// explore follows the successors of every newly created block until no
// new blocks appear. Direct call targets become function seeds.
func (c *CodeObject) explore() {
	for len(c.work) > 0 {
		b := c.work[len(c.work)-1]
		c.work = c.work[:len(c.work)-1]
		for _, e := range b.Succs {
			if c.ensureBlock(e.Target) == nil {
				c.log.Debug("edge target not followed", "from", hex(b.Start), "to", hex(e.Target), "kind", e.Kind)
			}
		}
		for _, callee := range b.Calls {
			if _, ok := c.byEntry[callee]; ok {
				continue
			}
			c.queue = append(c.queue, seed{addr: callee, origin: OriginCall})
		}
	}
}

// ensureBlock returns the block starting at addr, splitting or decoding one
// if needed. It returns nil when addr is outside code or falls inside an
// instruction of an existing block.
func (c *CodeObject) ensureBlock(addr uint64) *Block {
	if b, ok := c.byStart[addr]; ok {
		return b
	}
	if !c.img.InCode(addr) {
		return nil
	}
	if x := c.spanAt(addr); x != nil {
		if !c.onBoundary(x, addr) {
			return nil
		}
		return c.split(x, addr)
	}
	return c.decodeBlock(addr, true)
}

// onBoundary reports whether an instruction of b starts at addr.
func (c *CodeObject) onBoundary(b *Block, addr uint64) bool {
	for pc := b.Start; pc < b.End && pc <= addr; {
		if pc == addr {
			return true
		}
		inst, err := c.dec.Decode(c.img.Bytes(pc), pc)
		if err != nil {
			return false
		}
		pc = inst.Next()
	}
	return false
}

// split cuts x at addr, which must be an instruction boundary strictly
// inside it. The tail inherits x's successors and terminator.
func (c *CodeObject) split(x *Block, addr uint64) *Block {
	y := &Block{
		Start:     addr,
		End:       x.End,
		Section:   x.Section,
		Succs:     x.Succs,
		Calls:     x.Calls,
		Term:      x.Term,
		Truncated: x.Truncated,
		Conflict:  x.Conflict,
	}
	x.End = addr
	x.Succs = []Edge{{Target: addr, Kind: EdgeFallthrough}}
	x.Calls = nil
	x.Term = disasm.FlowSeq
	x.Truncated = false
	x.Conflict = false
	c.insert(y, true)
	// The tail may carry successors that were never explored.
	c.work = append(c.work, y)
	c.log.Debug("split block", "start", hex(x.Start), "at", hex(addr))
	return y
}

// decodeBlock decodes a new block at addr and queues its successors for
// exploration. Growth stops at a control transfer, at the next known block
// start, at the end of the section, or at bytes that do not decode.
func (c *CodeObject) decodeBlock(addr uint64, span bool) *Block {
	sec, _ := c.img.SectionAt(addr)
	b := &Block{Start: addr, End: addr, Section: sec.Name}
	limit, bounded := c.nextStart(addr)

	pc := addr
	for {
		if pc >= sec.End() {
			break
		}
		if pc != addr && bounded && pc == limit {
			b.Succs = append(b.Succs, Edge{Target: pc, Kind: EdgeFallthrough})
			break
		}
		inst, err := c.dec.Decode(sec.Data[pc-sec.Addr:], pc)
		if err != nil {
			b.Truncated = true
			var de *disasm.DecodeError
			if errors.As(err, &de) {
				c.log.Debug("block truncated", "start", hex(addr), "at", hex(pc), "err", de.Err)
			}
			break
		}
		if bounded && pc < limit && inst.Next() > limit {
			b.Conflict = true
			c.log.Debug("instruction overlaps next block", "start", hex(addr), "at", hex(pc), "next", hex(limit))
			break
		}
		pc = inst.Next()
		b.End = pc
		if !inst.EndsBlock() {
			continue
		}

		b.Term = inst.Flow
		if inst.FallsThrough() && pc < sec.End() {
			kind := EdgeFallthrough
			if inst.Flow == disasm.FlowCall {
				kind = EdgeCallReturn
			}
			b.Succs = append(b.Succs, Edge{Target: pc, Kind: kind})
		}
		if inst.Direct {
			switch {
			case inst.Flow == disasm.FlowCall:
				b.Calls = append(b.Calls, inst.Target)
			case inst.Cond:
				b.Succs = append(b.Succs, Edge{Target: inst.Target, Kind: EdgeCondTaken})
			default:
				b.Succs = append(b.Succs, Edge{Target: inst.Target, Kind: EdgeJump})
			}
		}
		break
	}

	c.insert(b, span)
	c.work = append(c.work, b)
	return b
}

// finalize drops edges to addresses that never became blocks and
// recomputes function membership.
func (c *CodeObject) finalize() {
	for _, b := range c.blocks {
		succs := b.Succs[:0]
		for _, e := range b.Succs {
			if _, ok := c.byStart[e.Target]; ok {
				succs = append(succs, e)
			}
		}
		b.Succs = succs
	}
	for _, f := range c.funcs {
		f.blocks = c.reach(f.Entry)
	}
}

// reach lists the blocks reachable from entry, breadth first.
func (c *CodeObject) reach(entry uint64) []*Block {
	start, ok := c.byStart[entry]
	if !ok {
		return nil
	}
	seen := map[*Block]bool{start: true}
	out := []*Block{start}
	for i := 0; i < len(out); i++ {
		for _, e := range out[i].Succs {
			b := c.byStart[e.Target]
			if seen[b] {
				continue
			}
			seen[b] = true
			out = append(out, b)
		}
	}
	return out
}
