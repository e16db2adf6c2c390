package geometry

// UnionFind is a disjoint-set structure over indices 0..n-1 with path
// compression, used to cluster overlapping detections.
type UnionFind struct {
	parent []int
}

// NewUnionFind creates n singleton sets.
func NewUnionFind(n int) *UnionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &UnionFind{parent: p}
}

// Find returns the representative of i's set.
func (u *UnionFind) Find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

// Union merges the sets containing a and b.
func (u *UnionFind) Union(a, b int) {
	ra, rb := u.Find(a), u.Find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}

// Groups returns the members of each set, keyed by representative order
// of first appearance.
func (u *UnionFind) Groups() [][]int {
	byRoot := make(map[int][]int)
	order := make([]int, 0)
	for i := range u.parent {
		r := u.Find(i)
		if _, ok := byRoot[r]; !ok {
			order = append(order, r)
		}
		byRoot[r] = append(byRoot[r], i)
	}
	groups := make([][]int, 0, len(order))
	for _, r := range order {
		groups = append(groups, byRoot[r])
	}
	return groups
}

// ClusterBoxes groups boxes whose pairwise IoU exceeds the threshold,
// returning index groups in first-appearance order.
func ClusterBoxes(boxes []Box, iouThreshold float64) [][]int {
	uf := NewUnionFind(len(boxes))
	for i := 0; i < len(boxes); i++ {
		for j := i + 1; j < len(boxes); j++ {
			if boxes[i].IoU(boxes[j]) > iouThreshold {
				uf.Union(i, j)
			}
		}
	}
	return uf.Groups()
}
