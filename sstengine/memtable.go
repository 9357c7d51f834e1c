package sstengine

import (
	"math"
	"math/rand"

	"logkv/kvstore"
)

// memTable is an in-memory, sorted key index backed by a skip list,
// carrying a kvstore.Status per key instead of a raw byte slice. A
// tombstone is just a Status whose Kind is Deleted — there is no node
// removal, unlike a hash index's Delete, because the memtable itself
// must remember "this key was explicitly deleted" until it is flushed
// to a segment.
//
// Grounded on gtarraga-kv-store/v6's SkipList (skiplist.go), which is
// otherwise stranded: v6 references a MemTable/NewMemTable type in
// wal.go, merge.go and v6.go that the package never defines. This type
// is the working replacement, keeping the teacher's probabilistic
// leveled-tower structure but dropping its runtime.fastrand linkname
// trick for the standard library's math/rand.
const maxHeight = 16
const pValue = 0.5

var heightProbabilities [maxHeight]uint32

func init() {
	probability := 1.0
	for level := 0; level < maxHeight; level++ {
		heightProbabilities[level] = uint32(probability * float64(math.MaxUint32))
		probability *= pValue
	}
}

func randomHeight() int {
	seed := rand.Uint32()
	height := 1
	for height < maxHeight && seed <= heightProbabilities[height] {
		height++
	}
	return height
}

type mtNode struct {
	key    string
	status kvstore.Status
	tower  []*mtNode
}

type memTable struct {
	head   *mtNode
	height int
	size   int
}

func newMemTable() *memTable {
	return &memTable{head: &mtNode{tower: make([]*mtNode, maxHeight)}, height: 1}
}

// search returns the node with an exact key match, if any, plus the
// per-level predecessor chain leading to where key belongs.
func (m *memTable) search(key string) (*mtNode, [maxHeight]*mtNode) {
	var next *mtNode
	var journey [maxHeight]*mtNode

	prev := m.head
	for level := m.height - 1; level >= 0; level-- {
		for next = prev.tower[level]; next != nil; next = prev.tower[level] {
			if key <= next.key {
				break
			}
			prev = next
		}
		journey[level] = prev
	}

	if next != nil && next.key == key {
		return next, journey
	}
	return nil, journey
}

// Get returns the status stored for key, if any.
func (m *memTable) Get(key string) (kvstore.Status, bool) {
	found, _ := m.search(key)
	if found == nil {
		return kvstore.Status{}, false
	}
	return found.status, true
}

// Set inserts or overwrites key's status.
func (m *memTable) Set(key string, status kvstore.Status) {
	found, journey := m.search(key)
	if found != nil {
		found.status = status
		return
	}

	height := randomHeight()
	node := &mtNode{key: key, status: status, tower: make([]*mtNode, height)}
	for level := 0; level < height; level++ {
		prev := journey[level]
		if prev == nil {
			prev = m.head
		}
		node.tower[level] = prev.tower[level]
		prev.tower[level] = node
	}
	if height > m.height {
		m.height = height
	}
	m.size++
}

// Len returns the number of distinct keys held (Present and Deleted
// both count).
func (m *memTable) Len() int { return m.size }

// memTableIterator walks a memTable's keys in ascending order via the
// bottom tower level, the same traversal v6.SkipList.Iterator uses.
type memTableIterator struct {
	current *mtNode
}

// Iter returns a fresh ascending-key iterator positioned before the
// first entry.
func (m *memTable) Iter() *memTableIterator {
	return &memTableIterator{current: m.head}
}

// Next advances the iterator, returning false once exhausted.
func (it *memTableIterator) Next() bool {
	if it.current == nil {
		return false
	}
	it.current = it.current.tower[0]
	return it.current != nil
}

// Key returns the current entry's key. Valid only after Next returns
// true.
func (it *memTableIterator) Key() string { return it.current.key }

// Status returns the current entry's status. Valid only after Next
// returns true.
func (it *memTableIterator) Status() kvstore.Status { return it.current.status }
