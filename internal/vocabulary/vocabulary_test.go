package vocabulary

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomDescriptor(seed byte, width int) Descriptor {
	d := make(Descriptor, width)
	for i := range d {
		d[i] = seed + byte(i)
	}
	return d
}

func TestHammingDistance(t *testing.T) {
	a := Descriptor{0b10101010}
	b := Descriptor{0b01010101}
	assert.Equal(t, 8, HammingDistance(a, b))

	c := Descriptor{0b10101010}
	assert.Equal(t, 0, HammingDistance(a, c))
}

func TestBuild_Deterministic(t *testing.T) {
	var descriptors []Descriptor
	for i := 0; i < 40; i++ {
		descriptors = append(descriptors, randomDescriptor(byte(i*7), 64))
	}
	params := Params{BranchingFactor: 4, Depth: 2, Seed: 99, MaxIterations: 10}

	t1 := Build(descriptors, params)
	t2 := Build(descriptors, params)

	require.Equal(t, t1.LeafCount(), t2.LeafCount())
	for _, d := range descriptors {
		assert.Equal(t, t1.Quantize(d), t2.Quantize(d), "quantization must be deterministic for a fixed seed")
	}
}

func TestBuild_LeafCountMatchesBranchingAndDepth(t *testing.T) {
	var descriptors []Descriptor
	for i := 0; i < 200; i++ {
		descriptors = append(descriptors, randomDescriptor(byte(i), 64))
	}
	tree := Build(descriptors, Params{BranchingFactor: 10, Depth: 2, Seed: 1, MaxIterations: 10})
	assert.LessOrEqual(t, tree.LeafCount(), 100, "leaf count should not exceed B^L")
	assert.Greater(t, tree.LeafCount(), 0)
}

func TestBuild_EmptyInput(t *testing.T) {
	tree := Build(nil, Params{BranchingFactor: 10, Depth: 2, Seed: 1})
	assert.Equal(t, 1, tree.LeafCount())
	assert.Equal(t, 0, tree.Quantize(Descriptor{0xFF}))
}

func TestQuantize_NearestCentroidWins(t *testing.T) {
	descriptors := []Descriptor{
		{0x00, 0x00}, {0x01, 0x00}, // cluster near zero
		{0xFF, 0xFF}, {0xFE, 0xFF}, // cluster near all-ones
	}
	tree := Build(descriptors, Params{BranchingFactor: 2, Depth: 1, Seed: 7, MaxIterations: 10})

	leafZero := tree.Quantize(Descriptor{0x00, 0x00})
	leafOnes := tree.Quantize(Descriptor{0xFF, 0xFF})
	assert.NotEqual(t, leafZero, leafOnes, "well-separated clusters should map to different leaves")
}

func TestTermFrequencyAndIDF(t *testing.T) {
	descriptors := []Descriptor{
		{0x00, 0x00}, {0x01, 0x00},
		{0xFF, 0xFF}, {0xFE, 0xFF},
	}
	tree := Build(descriptors, Params{BranchingFactor: 2, Depth: 1, Seed: 7, MaxIterations: 10})

	tfA := tree.NormalizedTF([]Descriptor{{0x00, 0x00}, {0x01, 0x00}})
	tfB := tree.NormalizedTF([]Descriptor{{0xFF, 0xFF}})

	idf := IDF([][]float64{tfA, tfB}, tree.LeafCount())
	weighted := TFIDF(tfA, idf)

	require.Len(t, weighted, tree.LeafCount())

	sim := CosineSimilarity(weighted, TFIDF(tfA, idf))
	assert.InDelta(t, 1.0, sim, 1e-9, "a histogram should be maximally similar to itself")

	simCross := CosineSimilarity(TFIDF(tfA, idf), TFIDF(tfB, idf))
	assert.Less(t, simCross, sim, "dissimilar targets should score lower than self-similarity")
}

func TestCosineSimilarity_ZeroVector(t *testing.T) {
	zero := make([]float64, 4)
	other := []float64{1, 2, 3, 4}
	assert.Equal(t, 0.0, CosineSimilarity(zero, other))
}
