// Package graph exports recovered functions as DOT control-flow graphs and
// a call graph.
package graph

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"

	"disassemble/internal/cfg"
	"disassemble/internal/disasm"
	"disassemble/internal/symbols"
)

// NodeName labels a function as name_addr, or sub_addr when unnamed.
func NodeName(entry uint64, name string) string {
	if name == "" {
		return fmt.Sprintf("sub_%x", entry)
	}
	return fmt.Sprintf("%s_%x", symbols.Demangle(name), entry)
}

func funcName(co *cfg.CodeObject, addr uint64) string {
	if f, ok := co.Function(addr); ok {
		return NodeName(f.Entry, f.Name)
	}
	name, _ := co.Image().SymbolAt(addr)
	return NodeName(addr, name)
}

// FuncCFG converts f to a lattice CFG. Block Start and End are indices into
// the function's instructions, laid out in block order.
func FuncCFG(co *cfg.CodeObject, f *cfg.Function) *lattice.FuncCFG {
	blocks := f.Blocks()
	index := make(map[uint64]int, len(blocks))
	for i, b := range blocks {
		index[b.Start] = i
	}

	lcfg := &lattice.FuncCFG{Name: NodeName(f.Entry, f.Name)}
	seq := 0
	for i, b := range blocks {
		insts := co.Instructions(b)
		lb := &lattice.BasicBlock{
			ID:    i,
			Start: seq,
			End:   seq + len(insts),
			Term:  len(b.Succs) == 0,
		}
		for _, e := range b.Succs {
			id, ok := index[e.Target]
			if !ok {
				continue
			}
			var cond string
			switch {
			case e.Kind == cfg.EdgeCondTaken:
				cond = "T"
			case e.Kind == cfg.EdgeFallthrough && b.Term == disasm.FlowJump:
				cond = "F"
			}
			lb.Succs = append(lb.Succs, lattice.Successor{BlockID: id, Cond: cond})
		}
		for _, callee := range b.Calls {
			lb.Calls = append(lb.Calls, lattice.CallSite{
				Offset: lb.End - 1,
				Callee: funcName(co, callee),
			})
		}
		seq = lb.End
		lcfg.Blocks = append(lcfg.Blocks, lb)
	}
	return lcfg
}

// CallGraph builds the direct call graph of funcs. Callees outside funcs
// still appear as edge targets.
func CallGraph(co *cfg.CodeObject, funcs []*cfg.Function) *lattice.Graph {
	g := &lattice.Graph{}
	for _, f := range funcs {
		caller := NodeName(f.Entry, f.Name)
		g.Nodes = append(g.Nodes, caller)
		for _, b := range f.Blocks() {
			for _, callee := range b.Calls {
				g.Edges = append(g.Edges, lattice.Edge{
					Caller: caller,
					Callee: funcName(co, callee),
				})
			}
		}
	}
	g.Dedup()
	return g
}

// WriteDOT writes <entry>.dot for every function in funcs and
// callgraph.dot into dir, creating dir if needed.
func WriteDOT(dir string, co *cfg.CodeObject, funcs []*cfg.Function) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dot dir: %w", err)
	}
	for _, f := range funcs {
		lcfg := FuncCFG(co, f)
		dot := render.DOTCFG(&lattice.CFGGraph{Funcs: []*lattice.FuncCFG{lcfg}}, lcfg.Name)
		path := filepath.Join(dir, fmt.Sprintf("%x.dot", f.Entry))
		if err := os.WriteFile(path, []byte(dot), 0o644); err != nil {
			return fmt.Errorf("write cfg: %w", err)
		}
	}
	dot := render.DOT(CallGraph(co, funcs), "callgraph")
	if err := os.WriteFile(filepath.Join(dir, "callgraph.dot"), []byte(dot), 0o644); err != nil {
		return fmt.Errorf("write call graph: %w", err)
	}
	return nil
}
