package ir

// DomTree holds immediate dominators of the reachable blocks of a function.
type DomTree struct {
	idom  []int
	order []int // reverse post-order of reachable blocks
	rpo   []int // position in order, -1 for unreachable
}

// ComputeDominators builds the dominator tree with the iterative
// Cooper-Harvey-Kennedy algorithm. Successor indices outside the function
// are ignored.
func ComputeDominators(f *Func) *DomTree {
	n := len(f.Blocks)
	t := &DomTree{
		idom: make([]int, n),
		rpo:  make([]int, n),
	}
	for i := range t.idom {
		t.idom[i] = -1
		t.rpo[i] = -1
	}
	if n == 0 {
		return t
	}

	visited := make([]bool, n)
	post := make([]int, 0, n)
	var walk func(b int)
	walk = func(b int) {
		visited[b] = true
		for _, s := range f.Blocks[b].Successors() {
			if s >= 0 && s < n && !visited[s] {
				walk(s)
			}
		}
		post = append(post, b)
	}
	walk(0)
	for i := len(post) - 1; i >= 0; i-- {
		t.rpo[post[i]] = len(t.order)
		t.order = append(t.order, post[i])
	}

	preds := Predecessors(f)
	t.idom[0] = 0
	for changed := true; changed; {
		changed = false
		for _, b := range t.order[1:] {
			newIdom := -1
			for _, p := range preds[b] {
				if t.idom[p] == -1 {
					continue
				}
				if newIdom == -1 {
					newIdom = p
					continue
				}
				newIdom = t.intersect(p, newIdom)
			}
			if newIdom != -1 && t.idom[b] != newIdom {
				t.idom[b] = newIdom
				changed = true
			}
		}
	}
	return t
}

func (t *DomTree) intersect(a, b int) int {
	for a != b {
		for t.rpo[a] > t.rpo[b] {
			a = t.idom[a]
		}
		for t.rpo[b] > t.rpo[a] {
			b = t.idom[b]
		}
	}
	return a
}

// Reachable reports whether b is reachable from the entry block.
func (t *DomTree) Reachable(b int) bool {
	return b >= 0 && b < len(t.rpo) && t.rpo[b] >= 0
}

// Dominates reports whether block a dominates block b. Unreachable blocks
// are dominated only by themselves.
func (t *DomTree) Dominates(a, b int) bool {
	if a == b {
		return true
	}
	if !t.Reachable(a) || !t.Reachable(b) {
		return false
	}
	for b != 0 {
		b = t.idom[b]
		if b == a {
			return true
		}
	}
	return false
}

// Order returns reachable blocks in reverse post-order.
func (t *DomTree) Order() []int {
	return t.order
}

// Predecessors returns, per block, the list of predecessor block indices.
func Predecessors(f *Func) [][]int {
	n := len(f.Blocks)
	preds := make([][]int, n)
	for b, bb := range f.Blocks {
		if bb == nil {
			continue
		}
		for _, s := range bb.Successors() {
			if s >= 0 && s < n {
				preds[s] = append(preds[s], b)
			}
		}
	}
	return preds
}
