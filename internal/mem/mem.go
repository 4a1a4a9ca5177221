package mem

import (
	"encoding/binary"
	"sort"
)

// PageSize is the allocation unit. 64-bit words never straddle a page:
// the word paths require 8-byte alignment and 8 divides PageSize.
const PageSize = 4096

type page [PageSize]byte

// granuleMeta is one tag-store entry: the tag bit plus the sideband words
// some formats keep out-of-band. Absent entries read as untagged with a
// zero sideband.
type granuleMeta struct {
	tag    bool
	m0, m1 uint64
}

// Memory is sparse paged memory with a per-granule tag store.
type Memory struct {
	granule uint64
	pages   map[uint64]*page
	tags    map[uint64]granuleMeta
}

// New returns empty memory with the given capability granule size. The
// granule must be a power of two dividing PageSize; the codec supplies it.
func New(granuleBytes uint64) *Memory {
	if granuleBytes == 0 || granuleBytes&(granuleBytes-1) != 0 || PageSize%granuleBytes != 0 {
		panic("mem: granule must be a power of two dividing the page size")
	}
	return &Memory{
		granule: granuleBytes,
		pages:   make(map[uint64]*page),
		tags:    make(map[uint64]granuleMeta),
	}
}

// GranuleBytes returns the tag granularity.
func (m *Memory) GranuleBytes() uint64 {
	return m.granule
}

func (m *Memory) pageFor(addr uint64) *page {
	idx := addr / PageSize
	p := m.pages[idx]
	if p == nil {
		p = new(page)
		m.pages[idx] = p
	}
	return p
}

// ReadBytes copies length bytes starting at addr. Unallocated ranges read
// as zero without allocating.
func (m *Memory) ReadBytes(addr uint64, length int) []byte {
	out := make([]byte, length)
	for done := 0; done < length; {
		a := addr + uint64(done)
		off := int(a % PageSize)
		n := PageSize - off
		if rem := length - done; n > rem {
			n = rem
		}
		if p := m.pages[a/PageSize]; p != nil {
			copy(out[done:done+n], p[off:off+n])
		}
		done += n
	}
	return out
}

// WriteBytes stores raw bytes at addr, invalidating the tags of every
// granule the range touches before any data lands.
func (m *Memory) WriteBytes(addr uint64, data []byte) {
	m.InvalidateTags(addr, uint64(len(data)))
	for done := 0; done < len(data); {
		a := addr + uint64(done)
		off := int(a % PageSize)
		n := PageSize - off
		if rem := len(data) - done; n > rem {
			n = rem
		}
		copy(m.pageFor(a)[off:off+n], data[done:done+n])
		done += n
	}
}

// ReadScalar reads a naturally aligned big-endian scalar of 1, 2, 4 or 8
// bytes. Alignment is the caller's contract; the machine checks it first.
func (m *Memory) ReadScalar(addr uint64, size uint32) uint64 {
	p := m.pages[addr/PageSize]
	if p == nil {
		return 0
	}
	off := addr % PageSize
	switch size {
	case 1:
		return uint64(p[off])
	case 2:
		return uint64(binary.BigEndian.Uint16(p[off : off+2]))
	case 4:
		return uint64(binary.BigEndian.Uint32(p[off : off+4]))
	case 8:
		return binary.BigEndian.Uint64(p[off : off+8])
	default:
		panic("mem: scalar size must be 1, 2, 4 or 8")
	}
}

// WriteScalar stores a naturally aligned big-endian scalar, invalidating
// the covering granule tag first.
func (m *Memory) WriteScalar(addr uint64, size uint32, v uint64) {
	m.InvalidateTags(addr, uint64(size))
	p := m.pageFor(addr)
	off := addr % PageSize
	switch size {
	case 1:
		p[off] = byte(v)
	case 2:
		binary.BigEndian.PutUint16(p[off:off+2], uint16(v))
	case 4:
		binary.BigEndian.PutUint32(p[off:off+4], uint32(v))
	case 8:
		binary.BigEndian.PutUint64(p[off:off+8], v)
	default:
		panic("mem: scalar size must be 1, 2, 4 or 8")
	}
}

// ReadWord implements capability.TagIO: an aligned 64-bit big-endian
// load with no tag effects.
func (m *Memory) ReadWord(addr uint64) uint64 {
	p := m.pages[addr/PageSize]
	if p == nil {
		return 0
	}
	off := addr % PageSize
	return binary.BigEndian.Uint64(p[off : off+8])
}

// WriteWord implements capability.TagIO: an aligned 64-bit big-endian
// store that leaves the tag store alone. Codecs order their tag write
// before data words; raw scalar traffic goes through WriteScalar instead.
func (m *Memory) WriteWord(addr uint64, v uint64) {
	p := m.pageFor(addr)
	off := addr % PageSize
	binary.BigEndian.PutUint64(p[off:off+8], v)
}

// ReadTagMeta implements capability.TagIO.
func (m *Memory) ReadTagMeta(addr uint64) (bool, uint64, uint64) {
	g := m.tags[addr/m.granule]
	return g.tag, g.m0, g.m1
}

// WriteTagMeta implements capability.TagIO.
func (m *Memory) WriteTagMeta(addr uint64, tag bool, m0, m1 uint64) {
	idx := addr / m.granule
	if !tag && m0 == 0 && m1 == 0 {
		delete(m.tags, idx)
		return
	}
	m.tags[idx] = granuleMeta{tag: tag, m0: m0, m1: m1}
}

// Tag returns the tag bit of the granule containing addr.
func (m *Memory) Tag(addr uint64) bool {
	return m.tags[addr/m.granule].tag
}

// InvalidateTags clears the tag of every granule overlapping
// [addr, addr+length). The sideband words stay: they are data-plane
// remnants, not authority.
func (m *Memory) InvalidateTags(addr, length uint64) {
	if length == 0 {
		return
	}
	first := addr / m.granule
	last := (addr + length - 1) / m.granule
	for idx := first; ; idx++ {
		if g, ok := m.tags[idx]; ok && g.tag {
			g.tag = false
			if g.m0 == 0 && g.m1 == 0 {
				delete(m.tags, idx)
			} else {
				m.tags[idx] = g
			}
		}
		if idx == last {
			return
		}
	}
}

// TagsIn8 returns the tag bits of the 8 consecutive granules starting at
// addr as a bitmask, bit 0 the lowest granule. addr must be aligned to 8
// granules; the machine checks that before calling.
func (m *Memory) TagsIn8(addr uint64) uint64 {
	first := addr / m.granule
	var mask uint64
	for i := uint64(0); i < 8; i++ {
		if m.tags[first+i].tag {
			mask |= 1 << i
		}
	}
	return mask
}

// EachPage visits every allocated page in address order. The data slice
// aliases the live page; callers must not retain it across writes.
func (m *Memory) EachPage(fn func(addr uint64, data []byte)) {
	idxs := make([]uint64, 0, len(m.pages))
	for idx := range m.pages {
		idxs = append(idxs, idx)
	}
	sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })
	for _, idx := range idxs {
		fn(idx*PageSize, m.pages[idx][:])
	}
}

// EachTagGranule visits every granule with a tag or nonzero sideband, in
// address order.
func (m *Memory) EachTagGranule(fn func(addr uint64, tag bool, m0, m1 uint64)) {
	idxs := make([]uint64, 0, len(m.tags))
	for idx := range m.tags {
		idxs = append(idxs, idx)
	}
	sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })
	for _, idx := range idxs {
		g := m.tags[idx]
		fn(idx*m.granule, g.tag, g.m0, g.m1)
	}
}
