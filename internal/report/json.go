package report

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"disassemble/internal/cfg"
)

// Document is the JSON form of a report.
type Document struct {
	Path        string     `json:"path,omitempty"`
	Format      string     `json:"format"`
	Arch        string     `json:"arch"`
	Digest      string     `json:"digest"`
	EntryPoints []string   `json:"entry_points"`
	Functions   []Function `json:"functions"`
}

type Function struct {
	Address   string   `json:"address"`
	Name      string   `json:"name,omitempty"`
	Demangled string   `json:"demangled,omitempty"`
	Origin    string   `json:"origin"`
	Shared    bool     `json:"has_shared_blocks"`
	Calls     []string `json:"calls,omitempty"`
	Blocks    []Block  `json:"blocks"`
}

type Block struct {
	Address      string        `json:"address"`
	End          string        `json:"end"`
	Shared       bool          `json:"shared,omitempty"`
	Truncated    bool          `json:"truncated,omitempty"`
	Successors   []string      `json:"successors,omitempty"`
	Instructions []Instruction `json:"instructions"`
}

type Instruction struct {
	Address string `json:"address"`
	Bytes   string `json:"bytes"`
	Text    string `json:"text"`
}

func addr(a uint64) string { return fmt.Sprintf("%#x", a) }

// Build converts funcs into a Document.
func Build(co *cfg.CodeObject, sh *cfg.Shared, funcs []*cfg.Function) Document {
	im := co.Image()
	doc := Document{
		Path:        im.Path,
		Format:      string(im.Format),
		Arch:        string(im.Arch),
		Digest:      im.DigestHex(),
		EntryPoints: []string{},
		Functions:   []Function{},
	}
	for _, e := range im.Entries {
		doc.EntryPoints = append(doc.EntryPoints, addr(e))
	}
	for _, f := range funcs {
		jf := Function{
			Address: addr(f.Entry),
			Name:    f.Name,
			Origin:  f.Origin.String(),
			Shared:  sh.HasSharedBlocks(f),
			Blocks:  []Block{},
		}
		if d := DisplayName(f); d != f.Name {
			jf.Demangled = d
		}
		for _, b := range f.Blocks() {
			jb := Block{
				Address:      addr(b.Start),
				End:          addr(b.End),
				Shared:       sh.IsShared(b),
				Truncated:    b.Truncated,
				Instructions: []Instruction{},
			}
			for _, e := range b.Succs {
				jb.Successors = append(jb.Successors, addr(e.Target))
			}
			for _, c := range b.Calls {
				jf.Calls = append(jf.Calls, addr(c))
			}
			for _, inst := range co.Instructions(b) {
				jb.Instructions = append(jb.Instructions, Instruction{
					Address: addr(inst.Addr),
					Bytes:   hex.EncodeToString(inst.Raw),
					Text:    inst.Text,
				})
			}
			jf.Blocks = append(jf.Blocks, jb)
		}
		doc.Functions = append(doc.Functions, jf)
	}
	return doc
}

// WriteJSON writes the indented JSON Document for funcs.
func WriteJSON(w io.Writer, co *cfg.CodeObject, sh *cfg.Shared, funcs []*cfg.Function) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(Build(co, sh, funcs)); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
