package symbols

import "testing"

func TestDemangle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"main", "main"},
		{"_Z3foov", "foo()"},
		{"_ZN4Game4initEv", "Game::init()"},
	}
	for _, tt := range tests {
		if got := Demangle(tt.in); got != tt.want {
			t.Errorf("Demangle(%q) = %q, want %q", tt.in, got, tt.want)
		}
		// Second call is served from the cache.
		if got := Demangle(tt.in); got != tt.want {
			t.Errorf("cached Demangle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	total, hits, _ := CacheStats()
	if total < 3 || hits < 3 {
		t.Errorf("CacheStats = %d names, %d hits; want at least 3 of each", total, hits)
	}
}

func TestLookup(t *testing.T) {
	base := func(addr uint64) (string, uint64) {
		if addr == 0x1000 {
			return "_Z3foov", 0x1000
		}
		return "", 0
	}
	l := Lookup(base)
	if name, addr := l(0x1000); name != "foo()" || addr != 0x1000 {
		t.Errorf("Lookup(0x1000) = %q, %#x; want foo(), 0x1000", name, addr)
	}
	if name, _ := l(0x2000); name != "" {
		t.Errorf("Lookup(0x2000) = %q, want empty", name)
	}
}
