// Package symbols demangles C++ and Rust symbol names for display.
package symbols

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ianlancetaylor/demangle"

	"disassemble/internal/disasm"
)

// demangleCache memoizes demangling; listings repeat the same callee names
// once per call site.
type demangleCache struct {
	mu    sync.RWMutex
	names map[string]string
	hits  map[string]int
}

var cache = &demangleCache{
	names: make(map[string]string),
	hits:  make(map[string]int),
}

// Demangle returns the demangled form of name, or name itself when it is
// not a mangled symbol.
func Demangle(name string) string {
	if name == "" {
		return ""
	}
	cache.mu.RLock()
	d, ok := cache.names[name]
	cache.mu.RUnlock()
	if ok {
		cache.mu.Lock()
		cache.hits[name]++
		cache.mu.Unlock()
		return d
	}

	d = demangle.Filter(name, demangle.NoClones)

	cache.mu.Lock()
	cache.names[name] = d
	cache.mu.Unlock()
	return d
}

// Lookup wraps a symbol lookup so that the names it returns are demangled.
func Lookup(lookup disasm.SymLookup) disasm.SymLookup {
	return func(addr uint64) (string, uint64) {
		name, base := lookup(addr)
		return Demangle(name), base
	}
}

// CacheStats reports how many names were demangled, how many lookups hit
// the cache, and the most repeated names.
func CacheStats() (total, hits int, top []string) {
	cache.mu.RLock()
	defer cache.mu.RUnlock()

	type hit struct {
		name  string
		count int
	}
	var all []hit
	for name, n := range cache.hits {
		hits += n
		all = append(all, hit{name, n})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].name < all[j].name
	})
	for i := 0; i < 5 && i < len(all); i++ {
		top = append(top, fmt.Sprintf("%s (%d hits)", all[i].name, all[i].count))
	}
	return len(cache.names), hits, top
}
