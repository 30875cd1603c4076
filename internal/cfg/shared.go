package cfg

// Shared records which blocks belong to more than one function. It is
// computed from a finished CodeObject and does not modify it.
type Shared struct {
	owners map[*Block][]*Function
}

// DetectShared computes block ownership over every function of c.
func DetectShared(c *CodeObject) *Shared {
	s := &Shared{owners: make(map[*Block][]*Function)}
	for _, f := range c.Functions() {
		for _, b := range f.Blocks() {
			s.owners[b] = append(s.owners[b], f)
		}
	}
	return s
}

// Owners returns the functions containing b, in registration order.
func (s *Shared) Owners(b *Block) []*Function { return s.owners[b] }

// IsShared reports whether b belongs to two or more functions.
func (s *Shared) IsShared(b *Block) bool { return len(s.owners[b]) > 1 }

// HasSharedBlocks reports whether any block of f also belongs to another
// function.
func (s *Shared) HasSharedBlocks(f *Function) bool {
	for _, b := range f.Blocks() {
		if s.IsShared(b) {
			return true
		}
	}
	return false
}

// Count returns how many of f's blocks are shared.
func (s *Shared) Count(f *Function) int {
	n := 0
	for _, b := range f.Blocks() {
		if s.IsShared(b) {
			n++
		}
	}
	return n
}
