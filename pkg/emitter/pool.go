package emitter

// PoolKind tags a constant pool entry's source literal kind.
type PoolKind int

const (
	PoolInt PoolKind = iota
	PoolHex
	PoolDuration
	PoolString
	PoolBool
)

// PoolEntry is one deduplicated constant. RodataOffset is only meaningful
// for PoolString entries; it is -1 otherwise.
type PoolEntry struct {
	Kind         PoolKind
	Value        any
	RodataOffset int
}

type poolKey struct {
	kind  PoolKind
	value any
}

// ConstPool interns literal values in first-use order and assigns each a
// stable 16-bit index (kidx16, per spec.md §3); string bytes are appended
// to a NUL-terminated rodata segment in the same intern order.
type ConstPool struct {
	entries []PoolEntry
	index   map[poolKey]uint16
	rodata  []byte
}

func NewConstPool() *ConstPool {
	return &ConstPool{index: map[poolKey]uint16{}}
}

// Intern normalizes value for dedup purposes (DURATION dedupes on its
// nanosecond count regardless of source suffix; STRING dedupes on raw
// bytes) and returns the entry's pool index, assigning a new one on first
// sight of a given (kind, value) pair.
func (p *ConstPool) Intern(kind PoolKind, value any) uint16 {
	key := poolKey{kind: kind, value: normalizeForDedup(kind, value)}
	if idx, ok := p.index[key]; ok {
		return idx
	}
	if len(p.entries) >= 0x10000 {
		panic(&Error{Message: "constant pool overflow: more than 65536 unique entries"})
	}
	idx := uint16(len(p.entries))
	entry := PoolEntry{Kind: kind, Value: key.value, RodataOffset: -1}
	if kind == PoolString {
		s := key.value.(string)
		entry.RodataOffset = len(p.rodata)
		p.rodata = append(p.rodata, []byte(s)...)
		p.rodata = append(p.rodata, 0)
	}
	p.entries = append(p.entries, entry)
	p.index[key] = idx
	return idx
}

func normalizeForDedup(kind PoolKind, value any) any {
	switch kind {
	case PoolDuration:
		switch v := value.(type) {
		case uint64:
			return v
		case int64:
			return uint64(v)
		}
	}
	return value
}

func (p *ConstPool) Entries() []PoolEntry { return p.entries }
func (p *ConstPool) Rodata() []byte       { return p.rodata }
