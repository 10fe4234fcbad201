package mpt

// Path is a sequence of nibbles: Data read from its Offset-th nibble on.
type Path struct {
	Data   []byte
	Offset uint32
}

type nibbles interface {
	At(idx int) int
	Size() int
}

func newPath(data []byte, offset uint32) *Path {
	return &Path{Data: data, Offset: offset}
}

func (p *Path) Size() int {
	return 2*len(p.Data) - int(p.Offset)
}

func (p *Path) Empty() bool {
	return p.Size() == 0
}

func (p *Path) At(idx int) int {
	idx += int(p.Offset)
	b := p.Data[idx/2]
	if idx%2 == 0 {
		return int(b >> 4)
	}
	return int(b & 0x0f)
}

// matchLen counts the leading nibbles a and b share.
func matchLen(a, b nibbles) int {
	n := min(a.Size(), b.Size())
	for i := range n {
		if a.At(i) != b.At(i) {
			return i
		}
	}
	return n
}

func (p *Path) Equal(other *Path) bool {
	return p.Size() == other.Size() && matchLen(p, other) == p.Size()
}

func (p *Path) StartsWith(prefix *Path) bool {
	return prefix.Size() <= p.Size() && matchLen(p, prefix) == prefix.Size()
}

// Consume drops the first n nibbles in place.
func (p *Path) Consume(n int) *Path {
	p.Offset += uint32(n)
	return p
}

// Bytes packs the nibbles of an even-sized path back into bytes.
func (p *Path) Bytes() []byte {
	res := make([]byte, p.Size()/2)
	for i := range res {
		res[i] = byte(p.At(2*i)<<4 | p.At(2*i+1))
	}
	return res
}

func (p *Path) CommonPrefix(other *Path) *Path {
	return pack(p, matchLen(p, other))
}

func (p *Path) Combine(other *Path) *Path {
	j := joined{p, other}
	return pack(j, j.Size())
}

// compact returns the same nibbles in the packed layout, so equal paths always encode equally.
func (p *Path) compact() *Path {
	return pack(p, p.Size())
}

// pack copies the first n nibbles of src into a fresh path. An odd-sized path keeps its first nibble
// alone in the low half of byte 0 and starts at offset 1.
func pack(src nibbles, n int) *Path {
	offset := n % 2
	data := make([]byte, (n+offset)/2)
	for i := range n {
		pos := i + offset
		if pos%2 == 0 {
			data[pos/2] |= byte(src.At(i)) << 4
		} else {
			data[pos/2] |= byte(src.At(i))
		}
	}
	return newPath(data, uint32(offset))
}

type joined struct {
	head, tail *Path
}

func (j joined) At(idx int) int {
	if idx < j.head.Size() {
		return j.head.At(idx)
	}
	return j.tail.At(idx - j.head.Size())
}

func (j joined) Size() int {
	return j.head.Size() + j.tail.Size()
}
