// Package cfg recovers functions and basic blocks from an image.
//
// Blocks live in a single arena owned by the CodeObject and are keyed by
// start address. Functions refer to blocks; a block reachable from more
// than one function entry belongs to each of them.
package cfg

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"disassemble/internal/disasm"
	"disassemble/internal/image"
)

// ErrNotCode is returned by Seed for addresses outside every code section.
var ErrNotCode = errors.New("address is not in a code section")

type EdgeKind uint8

const (
	EdgeFallthrough EdgeKind = iota // straight-line continuation
	EdgeJump                        // unconditional direct branch
	EdgeCondTaken                   // taken side of a conditional branch
	EdgeCallReturn                  // return site after a call
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeFallthrough:
		return "fallthrough"
	case EdgeJump:
		return "jump"
	case EdgeCondTaken:
		return "taken"
	case EdgeCallReturn:
		return "return"
	}
	return fmt.Sprintf("edge(%d)", uint8(k))
}

// Edge is an intra-procedural successor.
type Edge struct {
	Target uint64
	Kind   EdgeKind
}

// Block is a basic block [Start, End). Instructions are not stored; use
// CodeObject.Instructions.
type Block struct {
	ID      int
	Start   uint64
	End     uint64
	Section string
	Succs   []Edge
	Calls   []uint64    // direct call targets
	Term    disasm.Flow // flow of the last instruction; FlowSeq if cut short

	// Truncated is set when growth stopped at bytes that do not decode.
	Truncated bool
	// Conflict is set when the next instruction would run into another
	// block's start.
	Conflict bool
}

// Size is the block length in bytes.
func (b *Block) Size() uint64 { return b.End - b.Start }

// Contains reports whether addr lies inside the block.
func (b *Block) Contains(addr uint64) bool { return addr >= b.Start && addr < b.End }

// Origin records why a function was created.
type Origin uint8

const (
	OriginEntry  Origin = iota // image entry point
	OriginSymbol               // function symbol or export
	OriginCall                 // direct call target
	OriginSeed                 // explicit caller-supplied address
)

func (o Origin) String() string {
	switch o {
	case OriginEntry:
		return "entry"
	case OriginSymbol:
		return "symbol"
	case OriginCall:
		return "call"
	case OriginSeed:
		return "seed"
	}
	return fmt.Sprintf("origin(%d)", uint8(o))
}

type Function struct {
	Entry  uint64
	Name   string // symbol name as found in the image, if any
	Origin Origin

	blocks []*Block
}

// Blocks returns the function's blocks, entry block first, in breadth-first
// order over successor edges.
func (f *Function) Blocks() []*Block { return f.blocks }

// EntryBlock is the block starting at Entry.
func (f *Function) EntryBlock() *Block {
	if len(f.blocks) == 0 {
		return nil
	}
	return f.blocks[0]
}

// Options configures a CodeObject.
type Options struct {
	Syntax disasm.Syntax
	// Lookup names addresses in instruction text. Defaults to the image's
	// symbol table.
	Lookup disasm.SymLookup
	Logger *slog.Logger
}

type seed struct {
	addr   uint64
	origin Origin
}

// CodeObject is the recovered graph for one image. It is mutated only by
// Parse and Seed.
type CodeObject struct {
	img *image.Image
	dec disasm.Decoder
	log *slog.Logger

	blocks  []*Block          // creation order; IDs index this slice
	byStart map[uint64]*Block // every block, by start address
	starts  []uint64          // sorted starts of every block
	spans   []*Block          // sorted, non-overlapping, non-empty blocks

	funcs   []*Function // registration order
	byEntry map[uint64]*Function

	queue []seed   // pending function seeds
	work  []*Block // blocks whose successors are unexplored
}

// New returns an empty CodeObject over img.
func New(img *image.Image, opts Options) *CodeObject {
	lookup := opts.Lookup
	if lookup == nil {
		lookup = img.Lookup
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CodeObject{
		img:     img,
		dec:     disasm.Decoder{Arch: img.Arch, Syntax: opts.Syntax, Lookup: lookup},
		log:     logger,
		byStart: make(map[uint64]*Block),
		byEntry: make(map[uint64]*Function),
	}
}

// Image returns the image the object was recovered from.
func (c *CodeObject) Image() *image.Image { return c.img }

// Functions returns all functions in registration order.
func (c *CodeObject) Functions() []*Function { return c.funcs }

// Function returns the function whose entry is addr.
func (c *CodeObject) Function(addr uint64) (*Function, bool) {
	f, ok := c.byEntry[addr]
	return f, ok
}

// Blocks returns every block in creation order.
func (c *CodeObject) Blocks() []*Block { return c.blocks }

// Block returns the block starting at addr.
func (c *CodeObject) Block(addr uint64) (*Block, bool) {
	b, ok := c.byStart[addr]
	return b, ok
}

// Instructions decodes b. The result is not cached.
func (c *CodeObject) Instructions(b *Block) []disasm.Inst {
	var out []disasm.Inst
	for pc := b.Start; pc < b.End; {
		inst, err := c.dec.Decode(c.img.Bytes(pc), pc)
		if err != nil {
			break
		}
		out = append(out, inst)
		pc = inst.Next()
	}
	return out
}

// spanAt returns the non-overlapping block containing addr.
func (c *CodeObject) spanAt(addr uint64) *Block {
	i := sort.Search(len(c.spans), func(i int) bool { return c.spans[i].End > addr })
	if i < len(c.spans) && c.spans[i].Contains(addr) {
		return c.spans[i]
	}
	return nil
}

// nextStart returns the first block start after addr, or 0.
func (c *CodeObject) nextStart(addr uint64) (uint64, bool) {
	i := sort.Search(len(c.starts), func(i int) bool { return c.starts[i] > addr })
	if i < len(c.starts) {
		return c.starts[i], true
	}
	return 0, false
}

func (c *CodeObject) insert(b *Block, span bool) {
	b.ID = len(c.blocks)
	c.blocks = append(c.blocks, b)
	c.byStart[b.Start] = b

	i := sort.Search(len(c.starts), func(i int) bool { return c.starts[i] >= b.Start })
	c.starts = append(c.starts, 0)
	copy(c.starts[i+1:], c.starts[i:])
	c.starts[i] = b.Start

	if !span || b.Size() == 0 {
		return
	}
	j := sort.Search(len(c.spans), func(j int) bool { return c.spans[j].Start >= b.Start })
	c.spans = append(c.spans, nil)
	copy(c.spans[j+1:], c.spans[j:])
	c.spans[j] = b
}

func (c *CodeObject) register(addr uint64, origin Origin) *Function {
	name, _ := c.img.SymbolAt(addr)
	f := &Function{Entry: addr, Name: name, Origin: origin}
	c.funcs = append(c.funcs, f)
	c.byEntry[addr] = f
	c.log.Debug("function", "entry", hex(addr), "origin", origin, "name", name)
	return f
}

func hex(addr uint64) string { return fmt.Sprintf("%#x", addr) }
