// Package vocabulary implements a hierarchical k-means vocabulary tree
// over binary (Hamming-distance) descriptors, used to pre-filter which
// reference targets are worth running full detection against.
package vocabulary

import (
	"math"
	"math/bits"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// Descriptor is a fixed-length binary feature descriptor (BRISK: 64 bytes).
type Descriptor []byte

// HammingDistance returns the number of differing bits between two
// same-length descriptors.
func HammingDistance(a, b Descriptor) int {
	dist := 0
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dist += bits.OnesCount8(a[i] ^ b[i])
	}
	return dist
}

// node is an internal or leaf node of the vocabulary tree.
type node struct {
	centroid Descriptor
	children []*node // empty for leaves
	leafIdx  int     // valid only when children is empty
}

// Params controls tree construction.
type Params struct {
	BranchingFactor int   // B
	Depth           int   // L; tree has at most B^L leaves
	Seed            int64 // deterministic k-means seeding
	MaxIterations   int   // Lloyd's algorithm iteration cap per split
}

// Tree is an immutable hierarchical k-means quantiser. Build it once from
// the union of all reference descriptors; it is safe for concurrent reads
// thereafter.
type Tree struct {
	root      *node
	leaves    []*node
	numLeaves int
}

// LeafCount returns the number of leaves, the dimensionality of
// histograms produced by this tree. It is at most B^L: a group holding no
// more than B descriptors becomes a leaf before reaching depth L, and an
// empty build yields a single leaf.
func (t *Tree) LeafCount() int {
	if t == nil {
		return 0
	}
	return t.numLeaves
}

// Build constructs a vocabulary tree from the union of reference
// descriptors across all targets. It is deterministic for a fixed seed:
// the same descriptor set always yields the same tree and the same leaf
// ordering.
func Build(descriptors []Descriptor, p Params) *Tree {
	if len(descriptors) == 0 || p.BranchingFactor < 2 || p.Depth < 1 {
		return &Tree{root: &node{leafIdx: 0}, leaves: []*node{{leafIdx: 0}}, numLeaves: 1}
	}

	rng := rand.New(rand.NewSource(p.Seed))
	leafCounter := 0
	root := buildLevel(descriptors, p, p.Depth, rng, &leafCounter)

	t := &Tree{root: root, numLeaves: leafCounter}
	t.leaves = make([]*node, leafCounter)
	collectLeaves(root, t.leaves)
	return t
}

func collectLeaves(n *node, out []*node) {
	if len(n.children) == 0 {
		out[n.leafIdx] = n
		return
	}
	for _, c := range n.children {
		collectLeaves(c, out)
	}
}

// buildLevel runs hierarchical k-means: cluster descriptors into
// p.BranchingFactor groups, then recurse on each group for the remaining
// depth. At depth 0 (or when a group holds too few descriptors to
// usefully split further) the node becomes a leaf with the next
// available leaf index.
func buildLevel(descriptors []Descriptor, p Params, remainingDepth int, rng *rand.Rand, leafCounter *int) *node {
	if remainingDepth == 0 || len(descriptors) <= p.BranchingFactor {
		idx := *leafCounter
		*leafCounter++
		return &node{centroid: meanDescriptor(descriptors), leafIdx: idx}
	}

	centroids := kmeans(descriptors, p.BranchingFactor, p.MaxIterations, rng)
	assignments := assign(descriptors, centroids)

	children := make([]*node, len(centroids))
	for ci := range centroids {
		var cluster []Descriptor
		for i, a := range assignments {
			if a == ci {
				cluster = append(cluster, descriptors[i])
			}
		}
		if len(cluster) == 0 {
			cluster = []Descriptor{centroids[ci]}
		}
		children[ci] = buildLevel(cluster, p, remainingDepth-1, rng, leafCounter)
		children[ci].centroid = centroids[ci]
	}

	return &node{centroid: meanDescriptor(descriptors), children: children}
}

// kmeans runs Hamming-distance Lloyd's algorithm with k-means++-style
// farthest-first seeding for determinism, and the empty-cluster tie
// break named by the design: an empty cluster's centroid is replaced by
// the descriptor farthest from its current centroid.
func kmeans(descriptors []Descriptor, k int, maxIter int, rng *rand.Rand) []Descriptor {
	if k > len(descriptors) {
		k = len(descriptors)
	}
	centroids := seedCentroids(descriptors, k, rng)

	if maxIter <= 0 {
		maxIter = 25
	}

	for iter := 0; iter < maxIter; iter++ {
		assignments := assign(descriptors, centroids)
		changed := false

		counts := make([]int, k)
		for _, a := range assignments {
			counts[a]++
		}

		newCentroids := make([]Descriptor, k)
		for ci := range centroids {
			var cluster []Descriptor
			for i, a := range assignments {
				if a == ci {
					cluster = append(cluster, descriptors[i])
				}
			}
			if len(cluster) == 0 {
				newCentroids[ci] = farthestDescriptor(descriptors, centroids[ci])
				continue
			}
			newCentroids[ci] = meanDescriptor(cluster)
		}

		for i := range centroids {
			if !bytesEqual(centroids[i], newCentroids[i]) {
				changed = true
			}
		}
		centroids = newCentroids
		if !changed {
			break
		}
	}

	return centroids
}

// seedCentroids picks k initial centroids deterministically via
// farthest-first traversal seeded by rng.
func seedCentroids(descriptors []Descriptor, k int, rng *rand.Rand) []Descriptor {
	centroids := make([]Descriptor, 0, k)
	first := rng.Intn(len(descriptors))
	centroids = append(centroids, cloneDescriptor(descriptors[first]))

	for len(centroids) < k {
		best := -1
		bestDist := -1
		for i, d := range descriptors {
			minDist := math.MaxInt32
			for _, c := range centroids {
				if dist := HammingDistance(d, c); dist < minDist {
					minDist = dist
				}
			}
			if minDist > bestDist {
				bestDist = minDist
				best = i
			}
		}
		centroids = append(centroids, cloneDescriptor(descriptors[best]))
	}
	return centroids
}

func assign(descriptors []Descriptor, centroids []Descriptor) []int {
	out := make([]int, len(descriptors))
	for i, d := range descriptors {
		best := 0
		bestDist := HammingDistance(d, centroids[0])
		for ci := 1; ci < len(centroids); ci++ {
			if dist := HammingDistance(d, centroids[ci]); dist < bestDist {
				bestDist = dist
				best = ci
			}
		}
		out[i] = best
	}
	return out
}

func farthestDescriptor(descriptors []Descriptor, from Descriptor) Descriptor {
	best := descriptors[0]
	bestDist := -1
	for _, d := range descriptors {
		if dist := HammingDistance(d, from); dist > bestDist {
			bestDist = dist
			best = d
		}
	}
	return cloneDescriptor(best)
}

// meanDescriptor computes the bitwise-majority descriptor: for each bit
// position, the resulting bit is 1 iff a majority of the cluster's
// descriptors have it set. This is the Hamming-space analogue of a
// Euclidean centroid.
func meanDescriptor(descriptors []Descriptor) Descriptor {
	if len(descriptors) == 0 {
		return nil
	}
	width := len(descriptors[0])
	counts := make([]int, width*8)
	for _, d := range descriptors {
		for byteIdx, b := range d {
			for bit := 0; bit < 8; bit++ {
				if b&(1<<uint(bit)) != 0 {
					counts[byteIdx*8+bit]++
				}
			}
		}
	}
	half := len(descriptors) / 2
	out := make(Descriptor, width)
	for i, c := range counts {
		if c > half {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

func cloneDescriptor(d Descriptor) Descriptor {
	out := make(Descriptor, len(d))
	copy(out, d)
	return out
}

func bytesEqual(a, b Descriptor) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Quantize returns the leaf index a descriptor maps to by descending the
// tree, at each level choosing the nearest child centroid in Hamming
// space.
func (t *Tree) Quantize(d Descriptor) int {
	if t == nil || t.root == nil {
		return 0
	}
	n := t.root
	for len(n.children) > 0 {
		best := n.children[0]
		bestDist := HammingDistance(d, best.centroid)
		for _, c := range n.children[1:] {
			if dist := HammingDistance(d, c.centroid); dist < bestDist {
				bestDist = dist
				best = c
			}
		}
		n = best
	}
	return n.leafIdx
}

// TermFrequency returns the raw (un-normalized) leaf occurrence counts
// for a descriptor set.
func (t *Tree) TermFrequency(descriptors []Descriptor) []float64 {
	tf := make([]float64, t.LeafCount())
	for _, d := range descriptors {
		tf[t.Quantize(d)]++
	}
	return tf
}

// NormalizedTF returns TermFrequency scaled to sum to 1 (or all-zero if
// there were no descriptors).
func (t *Tree) NormalizedTF(descriptors []Descriptor) []float64 {
	tf := t.TermFrequency(descriptors)
	total := floats.Sum(tf)
	if total == 0 {
		return tf
	}
	floats.Scale(1/total, tf)
	return tf
}

// IDF computes inverse document frequency per leaf over a corpus of
// per-target term-frequency vectors: idf[leaf] = log(N / df[leaf]), with
// df[leaf] the number of targets whose histogram has a nonzero count at
// that leaf. Leaves with df=0 get idf=0 (no target ever visits them).
func IDF(corpusTF [][]float64, numLeaves int) []float64 {
	idf := make([]float64, numLeaves)
	df := make([]int, numLeaves)
	for _, tf := range corpusTF {
		for leaf, count := range tf {
			if count > 0 {
				df[leaf]++
			}
		}
	}
	n := float64(len(corpusTF))
	for leaf, d := range df {
		if d == 0 {
			idf[leaf] = 0
			continue
		}
		idf[leaf] = math.Log(n / float64(d))
	}
	return idf
}

// TFIDF computes the elementwise product of a normalized term-frequency
// vector and an idf vector.
func TFIDF(tf []float64, idf []float64) []float64 {
	out := make([]float64, len(tf))
	copy(out, tf)
	floats.Mul(out, idf)
	return out
}

// CosineSimilarity returns the cosine similarity between two equal-length
// vectors, 0 if either is the zero vector.
func CosineSimilarity(a, b []float64) float64 {
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}
