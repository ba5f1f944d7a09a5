package cache

import "container/list"

// Strategy selects which entry is removed when the cache is full.
type Strategy string

const (
	LRU  Strategy = "lru"
	FIFO Strategy = "fifo"
	LFU  Strategy = "lfu"
)

// Valid reports whether s names a supported eviction strategy.
func (s Strategy) Valid() bool {
	switch s {
	case LRU, FIFO, LFU:
		return true
	}
	return false
}

// policy is the bookkeeping behind an eviction strategy. The cache tells
// it about reads, writes and removals; in exchange it answers Evict with
// the key that should go next. It holds keys only, never values.
type policy interface {
	// OnGet is called on every successful read.
	OnGet(key string)

	// OnPut is called on every insert or overwrite.
	OnPut(key string)

	// Remove is called when a key leaves the cache for any reason other
	// than eviction (explicit delete, TTL expiry, clear).
	Remove(key string)

	// Evict returns the key to remove, or "" when nothing is tracked.
	// The policy forgets the key; the cache removes the entry.
	Evict() string
}

func newPolicy(s Strategy) policy {
	switch s {
	case FIFO:
		return newFIFOPolicy()
	case LFU:
		return newLFUPolicy()
	default:
		return newLRUPolicy()
	}
}

// lruPolicy keeps keys on a recency list: front is most recently used,
// back is the eviction candidate.
type lruPolicy struct {
	order    *list.List
	elements map[string]*list.Element
}

func newLRUPolicy() *lruPolicy {
	return &lruPolicy{
		order:    list.New(),
		elements: make(map[string]*list.Element),
	}
}

func (p *lruPolicy) OnGet(key string) {
	if el, ok := p.elements[key]; ok {
		p.order.MoveToFront(el)
	}
}

func (p *lruPolicy) OnPut(key string) {
	if el, ok := p.elements[key]; ok {
		p.order.MoveToFront(el)
		return
	}
	p.elements[key] = p.order.PushFront(key)
}

func (p *lruPolicy) Remove(key string) {
	if el, ok := p.elements[key]; ok {
		p.order.Remove(el)
		delete(p.elements, key)
	}
}

func (p *lruPolicy) Evict() string {
	el := p.order.Back()
	if el == nil {
		return ""
	}
	key := el.Value.(string)
	p.order.Remove(el)
	delete(p.elements, key)
	return key
}

// fifoPolicy evicts in insertion order. An overwrite counts as a fresh
// insertion and moves the key to the back of the queue; reads are ignored.
type fifoPolicy struct {
	order    *list.List
	elements map[string]*list.Element
}

func newFIFOPolicy() *fifoPolicy {
	return &fifoPolicy{
		order:    list.New(),
		elements: make(map[string]*list.Element),
	}
}

func (p *fifoPolicy) OnGet(string) {}

func (p *fifoPolicy) OnPut(key string) {
	if el, ok := p.elements[key]; ok {
		p.order.MoveToBack(el)
		return
	}
	p.elements[key] = p.order.PushBack(key)
}

func (p *fifoPolicy) Remove(key string) {
	if el, ok := p.elements[key]; ok {
		p.order.Remove(el)
		delete(p.elements, key)
	}
}

func (p *fifoPolicy) Evict() string {
	el := p.order.Front()
	if el == nil {
		return ""
	}
	key := el.Value.(string)
	p.order.Remove(el)
	delete(p.elements, key)
	return key
}

// lfuPolicy evicts the least frequently read key. Ties break toward the
// earliest insertion, which a monotonic sequence number makes exact.
type lfuPolicy struct {
	nodes map[string]*lfuNode
	seq   uint64
}

type lfuNode struct {
	freq uint64
	seq  uint64
}

func newLFUPolicy() *lfuPolicy {
	return &lfuPolicy{nodes: make(map[string]*lfuNode)}
}

func (p *lfuPolicy) OnGet(key string) {
	if n, ok := p.nodes[key]; ok {
		n.freq++
	}
}

func (p *lfuPolicy) OnPut(key string) {
	if _, ok := p.nodes[key]; ok {
		return
	}
	p.seq++
	p.nodes[key] = &lfuNode{seq: p.seq}
}

func (p *lfuPolicy) Remove(key string) {
	delete(p.nodes, key)
}

func (p *lfuPolicy) Evict() string {
	var victim string
	var found *lfuNode
	for key, n := range p.nodes {
		if found == nil || n.freq < found.freq || (n.freq == found.freq && n.seq < found.seq) {
			victim = key
			found = n
		}
	}
	if found == nil {
		return ""
	}
	delete(p.nodes, victim)
	return victim
}
