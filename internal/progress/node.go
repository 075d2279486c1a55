// Package progress implements hierarchical progress counters and a pump for
// cooperative, resumable tasks that report them.
package progress

// Node is a progress counter. A leaf counts consumed units out of its total;
// a node with children reports the total-weighted mean of its children.
//
// The tree shape must be fully declared before the first snapshot is taken:
// adding children later can lower the reported percentage.
type Node struct {
	total    int
	consumed int
	children []*Node
}

// NewNode returns a leaf with the given total units. A total of zero or less
// counts as already complete.
func NewNode(total int) *Node {
	return &Node{total: max(total, 0)}
}

// AddChild attaches a new leaf whose weight in n is total.
func (n *Node) AddChild(total int) *Node {
	c := NewNode(total)
	n.children = append(n.children, c)
	return c
}

// Children returns the direct children.
func (n *Node) Children() []*Node { return n.children }

// Total is the declared unit count (the node's weight in its parent).
func (n *Node) Total() int { return n.total }

// Consumed is the number of units consumed on a leaf.
func (n *Node) Consumed() int { return n.consumed }

// Advance consumes units on a leaf, clamped to the total. Negative values are
// ignored so progress never goes backwards.
func (n *Node) Advance(units int) {
	if units <= 0 {
		return
	}
	n.consumed = min(n.consumed+units, n.total)
}

// Complete marks n and its whole subtree as finished.
func (n *Node) Complete() {
	n.consumed = n.total
	for _, c := range n.children {
		c.Complete()
	}
}

// Done reports whether every unit in the subtree has been consumed.
func (n *Node) Done() bool {
	if len(n.children) == 0 {
		return n.consumed >= n.total
	}
	for _, c := range n.children {
		if !c.Done() {
			return false
		}
	}
	return true
}

// Percentage returns progress in [0,100]. It is exactly 100 once Done.
func (n *Node) Percentage() float64 {
	if n.Done() {
		return 100
	}
	if len(n.children) == 0 {
		return 100 * float64(n.consumed) / float64(n.total)
	}
	var sum, weights float64
	for _, c := range n.children {
		w := float64(c.total)
		sum += c.Percentage() * w
		weights += w
	}
	if weights == 0 {
		// all children weightless: plain mean
		for _, c := range n.children {
			sum += c.Percentage()
		}
		return sum / float64(len(n.children))
	}
	return sum / weights
}

// Snapshot is a read-only copy of a node's state.
type Snapshot struct {
	Percentage float64
	Consumed   int
	Total      int
	Children   []Snapshot
}

// Snapshot copies the subtree rooted at n.
func (n *Node) Snapshot() Snapshot {
	s := Snapshot{
		Percentage: n.Percentage(),
		Consumed:   n.consumed,
		Total:      n.total,
	}
	if len(n.children) > 0 {
		s.Children = make([]Snapshot, len(n.children))
		for i, c := range n.children {
			s.Children[i] = c.Snapshot()
		}
	}
	return s
}
