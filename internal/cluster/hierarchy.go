package cluster

// Single-linkage dendrogram over the mutual-reachability MST, condensed
// by minimum cluster size and cut by cluster stability. This is the
// flat-cluster extraction half of HDBSCAN: no cluster count is required,
// variable-density groups survive and everything unstable becomes noise.

// dendroNode is one node of the single-linkage tree. Leaves are points
// 0..n-1; internal nodes n..2n-2 are created by merging in ascending edge
// order.
type dendroNode struct {
	left, right int
	height      float64
	size        int
}

// buildDendrogram merges the sorted MST edges with union-find into a
// binary merge tree. Returns the node table; the last node is the root.
func buildDendrogram(edges []edge, n int) []dendroNode {
	nodes := make([]dendroNode, 2*n-1)
	for i := 0; i < n; i++ {
		nodes[i] = dendroNode{left: -1, right: -1, size: 1}
	}

	parent := make([]int, 2*n-1)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	// rootNode maps a union-find root to its current dendrogram node.
	rootNode := make([]int, 2*n-1)
	for i := range rootNode {
		rootNode[i] = i
	}

	next := n
	for _, e := range edges {
		ra, rb := find(e.a), find(e.b)
		na, nb := rootNode[ra], rootNode[rb]
		nodes[next] = dendroNode{
			left:   na,
			right:  nb,
			height: e.weight,
			size:   nodes[na].size + nodes[nb].size,
		}
		parent[ra] = rb
		rootNode[rb] = next
		next++
	}
	return nodes
}

// condensed is one cluster of the condensed tree.
type condensed struct {
	parent      int // index into the condensed slice, -1 for the root
	birthLambda float64
	stability   float64
	// pointLambda records, for each point that fell out of this cluster,
	// the density level at which it left.
	points       []int
	pointLambdas []float64
	children     []int
}

func lambdaOf(height float64) float64 {
	if height <= 0 {
		return 1e9 // merges at zero distance are infinitely dense
	}
	return 1 / height
}

// condenseTree walks the dendrogram top-down, discarding splits smaller
// than minClusterSize. Small side branches dissolve into their parent
// cluster; only splits where both sides are large enough create new
// condensed clusters.
func condenseTree(nodes []dendroNode, n, minClusterSize int) []condensed {
	root := len(nodes) - 1
	clusters := []condensed{{parent: -1, birthLambda: lambdaOf(nodes[root].height)}}

	type frame struct {
		node    int
		cluster int
	}
	stack := []frame{{node: root, cluster: 0}}

	// collectLeaves drops every point under node out of cluster c at the
	// given density level.
	var collectLeaves func(node, c int, lambda float64)
	collectLeaves = func(node, c int, lambda float64) {
		if node < n {
			clusters[c].points = append(clusters[c].points, node)
			clusters[c].pointLambdas = append(clusters[c].pointLambdas, lambda)
			return
		}
		collectLeaves(nodes[node].left, c, lambda)
		collectLeaves(nodes[node].right, c, lambda)
	}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		node, c := f.node, f.cluster
		if node < n {
			clusters[c].points = append(clusters[c].points, node)
			clusters[c].pointLambdas = append(clusters[c].pointLambdas, clusters[c].birthLambda)
			continue
		}

		left, right := nodes[node].left, nodes[node].right
		lambda := lambdaOf(nodes[node].height)
		leftBig := nodes[left].size >= minClusterSize
		rightBig := nodes[right].size >= minClusterSize

		switch {
		case leftBig && rightBig:
			// True split: both sides continue as new clusters.
			for _, child := range []int{left, right} {
				clusters = append(clusters, condensed{parent: c, birthLambda: lambda})
				id := len(clusters) - 1
				clusters[c].children = append(clusters[c].children, id)
				stack = append(stack, frame{node: child, cluster: id})
			}
		case leftBig:
			collectLeaves(right, c, lambda)
			stack = append(stack, frame{node: left, cluster: c})
		case rightBig:
			collectLeaves(left, c, lambda)
			stack = append(stack, frame{node: right, cluster: c})
		default:
			// The whole node dissolves.
			collectLeaves(node, c, lambda)
		}
	}

	for i := range clusters {
		s := 0.0
		for j := range clusters[i].points {
			s += clusters[i].pointLambdas[j] - clusters[i].birthLambda
		}
		clusters[i].stability = s
	}
	return clusters
}

// selectClusters picks the most stable non-overlapping set of condensed
// clusters bottom-up (excess of mass). The root is never selected, which
// keeps "everything is one cluster" from ever being the answer.
func selectClusters(clusters []condensed) []bool {
	selected := make([]bool, len(clusters))
	subtree := make([]float64, len(clusters))

	// Clusters are created parent-before-child, so reverse order is
	// bottom-up.
	for i := len(clusters) - 1; i >= 1; i-- {
		childSum := 0.0
		for _, ch := range clusters[i].children {
			childSum += subtree[ch]
		}
		if len(clusters[i].children) == 0 || clusters[i].stability >= childSum {
			selected[i] = true
			deselectDescendants(clusters, selected, i)
			subtree[i] = clusters[i].stability
		} else {
			subtree[i] = childSum
		}
	}
	return selected
}

func deselectDescendants(clusters []condensed, selected []bool, c int) {
	for _, ch := range clusters[c].children {
		selected[ch] = false
		deselectDescendants(clusters, selected, ch)
	}
}

// extractClusters runs the full condense-and-select pipeline and returns
// per-point cluster ids, -1 for noise.
func extractClusters(edges []edge, n, minClusterSize int) []int {
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}
	if len(edges) == 0 {
		return labels
	}

	nodes := buildDendrogram(edges, n)
	clusters := condenseTree(nodes, n, minClusterSize)
	selected := selectClusters(clusters)

	// A point belongs to the nearest selected ancestor of the condensed
	// cluster it fell out of.
	for ci := range clusters {
		owner := -1
		for c := ci; c != -1; c = clusters[c].parent {
			if selected[c] {
				owner = c
				break
			}
		}
		if owner == -1 {
			continue
		}
		for _, p := range clusters[ci].points {
			labels[p] = owner
		}
	}
	return labels
}
