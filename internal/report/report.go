// Package report renders a recovered CodeObject as text, JSON or a
// markdown summary.
package report

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"disassemble/internal/cfg"
	"disassemble/internal/symbols"
)

// ErrEmptyResult means recovery produced no functions at all. A report in
// which every function was filtered out is not an error.
var ErrEmptyResult = errors.New("no functions found")

// Order selects function enumeration order.
type Order string

const (
	OrderDiscovery Order = "discovery"
	OrderAddress   Order = "address"
)

// ParseOrder accepts discovery or address. Empty means discovery.
func ParseOrder(s string) (Order, error) {
	switch Order(strings.ToLower(s)) {
	case "", OrderDiscovery:
		return OrderDiscovery, nil
	case OrderAddress:
		return OrderAddress, nil
	}
	return "", fmt.Errorf("unknown order %q (want discovery or address)", s)
}

type Options struct {
	// ExcludeShared omits every function that has a shared block.
	ExcludeShared bool
	// Only restricts the report to one function.
	Only  *cfg.Function
	Order Order
	// Color styles headers and instructions for a terminal.
	Color bool
}

// Select returns the functions to report, in order.
func Select(co *cfg.CodeObject, sh *cfg.Shared, opts Options) ([]*cfg.Function, error) {
	all := co.Functions()
	if len(all) == 0 {
		return nil, ErrEmptyResult
	}
	var out []*cfg.Function
	for _, f := range all {
		if opts.ExcludeShared && sh.HasSharedBlocks(f) {
			continue
		}
		if opts.Only != nil && f != opts.Only {
			continue
		}
		out = append(out, f)
	}
	if opts.Order == OrderAddress {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Entry < out[j].Entry })
	}
	return out, nil
}

// DisplayName is the demangled symbol name of f, or "".
func DisplayName(f *cfg.Function) string {
	return symbols.Demangle(f.Name)
}
