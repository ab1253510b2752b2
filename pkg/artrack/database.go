package artrack

import (
	"fmt"
	"sort"
	"sync"

	"github.com/arplane/artrack/internal/config"
	"github.com/arplane/artrack/internal/vocabulary"
)

// TargetDatabase owns the immutable set of reference targets and the
// vocabulary tree built over their descriptors. Mutation (Add, Remove,
// Clear, BuildVocabulary) is exclusive; queries (QueryCandidates,
// Get, Len) take shared access. Calling a mutator concurrently with
// Engine.ProcessFrame is a caller error (see package docs on the
// concurrency model).
type TargetDatabase struct {
	mu      sync.RWMutex
	targets map[string]*Target
	order   []string // insertion order, for deterministic iteration

	vocabCfg config.VocabularyConfig
	tree     *vocabulary.Tree
	idf      []float64
}

// NewTargetDatabase creates an empty database configured for the given
// vocabulary-tree parameters.
func NewTargetDatabase(vocabCfg config.VocabularyConfig) *TargetDatabase {
	return &TargetDatabase{
		targets:  make(map[string]*Target),
		vocabCfg: vocabCfg,
	}
}

// Add inserts a new reference target. keypoints and descriptors must have
// the same length (rows); descriptors is the flattened rows*cols byte
// array with cols == DescriptorSize. The vocabulary tree is not
// recomputed automatically — call BuildVocabulary after loading a batch
// of targets.
func (db *TargetDatabase) Add(id string, keypoints []Keypoint, descriptors []byte, rows, cols int, corners Corners, refWidth, refHeight int, metadata []byte) error {
	if cols != DescriptorSize {
		return fmt.Errorf("%w: descriptor width %d, want %d", ErrInvalidDescriptors, cols, DescriptorSize)
	}
	if len(descriptors) != rows*cols {
		return fmt.Errorf("%w: got %d bytes, want %d (rows=%d cols=%d)",
			ErrInvalidDescriptors, len(descriptors), rows*cols, rows, cols)
	}
	if len(keypoints) != rows {
		return fmt.Errorf("%w: %d keypoints for %d descriptor rows", ErrInvalidDescriptors, len(keypoints), rows)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.targets[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}

	descs := make([]Descriptor, rows)
	for i := 0; i < rows; i++ {
		d := make(Descriptor, cols)
		copy(d, descriptors[i*cols:(i+1)*cols])
		descs[i] = d
	}

	meta := make([]byte, len(metadata))
	copy(meta, metadata)

	kps := make([]Keypoint, rows)
	copy(kps, keypoints)

	target := &Target{
		ID:          id,
		RefWidth:    refWidth,
		RefHeight:   refHeight,
		RefCorners:  corners,
		Keypoints:   kps,
		Descriptors: descs,
		Metadata:    meta,
	}

	db.targets[id] = target
	db.order = append(db.order, id)
	return nil
}

// Remove deletes a target by id. It is idempotent: removing an id that
// is not present is not an error.
func (db *TargetDatabase) Remove(id string) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.targets[id]; !ok {
		return
	}
	delete(db.targets, id)
	for i, existing := range db.order {
		if existing == id {
			db.order = append(db.order[:i], db.order[i+1:]...)
			break
		}
	}
}

// Clear empties the database and discards the vocabulary tree.
func (db *TargetDatabase) Clear() {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.targets = make(map[string]*Target)
	db.order = nil
	db.tree = nil
	db.idf = nil
}

// Len returns the number of loaded targets.
func (db *TargetDatabase) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.targets)
}

// Get returns a target by id, or nil if not loaded.
func (db *TargetDatabase) Get(id string) *Target {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.targets[id]
}

// Ids returns the loaded target ids in insertion order.
func (db *TargetDatabase) Ids() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]string, len(db.order))
	copy(out, db.order)
	return out
}

// BuildVocabulary (re)builds the hierarchical k-means vocabulary tree
// from the union of all targets' descriptors and recomputes every
// target's tf-idf histogram. It is deterministic for the configured
// seed.
func (db *TargetDatabase) BuildVocabulary() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var all []vocabulary.Descriptor
	for _, id := range db.order {
		all = append(all, db.targets[id].Descriptors...)
	}

	tree := vocabulary.Build(all, vocabulary.Params{
		BranchingFactor: db.vocabCfg.BranchingFactor,
		Depth:           db.vocabCfg.Depth,
		Seed:            db.vocabCfg.Seed,
		MaxIterations:   db.vocabCfg.KMeansMaxIterations,
	})

	corpusTF := make([][]float64, len(db.order))
	for i, id := range db.order {
		corpusTF[i] = tree.NormalizedTF(db.targets[id].Descriptors)
	}
	idf := vocabulary.IDF(corpusTF, tree.LeafCount())

	for i, id := range db.order {
		db.targets[id].histogramTF = vocabulary.TFIDF(corpusTF[i], idf)
	}

	db.tree = tree
	db.idf = idf
	return nil
}

// QueryCandidates ranks loaded targets by tf-idf cosine similarity to
// the query descriptor set and returns the top K ids, highest similarity
// first. When three or fewer targets are loaded, it bypasses the tree
// and returns all ids (in insertion order), since a vocabulary tree adds
// no discriminative value at that scale. Returns ErrVocabularyNotBuilt
// if more than three targets are loaded and BuildVocabulary has not run.
func (db *TargetDatabase) QueryCandidates(frameDescriptors []Descriptor, k int) ([]string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if len(db.order) <= 3 {
		out := make([]string, len(db.order))
		copy(out, db.order)
		return out, nil
	}

	if db.tree == nil {
		return nil, ErrVocabularyNotBuilt
	}

	frameTF := db.tree.NormalizedTF(frameDescriptors)
	frameWeighted := vocabulary.TFIDF(frameTF, db.idf)

	type scored struct {
		id    string
		score float64
	}
	scores := make([]scored, 0, len(db.order))
	for _, id := range db.order {
		sim := vocabulary.CosineSimilarity(frameWeighted, db.targets[id].histogramTF)
		scores = append(scores, scored{id: id, score: sim})
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].score > scores[j].score
	})

	if k > len(scores) {
		k = len(scores)
	}
	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = scores[i].id
	}
	return out, nil
}
