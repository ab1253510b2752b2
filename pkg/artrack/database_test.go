package artrack

import (
	"errors"
	"testing"

	"github.com/arplane/artrack/internal/config"
	"github.com/arplane/artrack/internal/geometry"
)

func testVocabConfig() config.VocabularyConfig {
	return config.VocabularyConfig{BranchingFactor: 4, Depth: 1, Seed: 1, KMeansMaxIterations: 10}
}

func rectCorners(w, h float32) Corners {
	return Corners{
		{X: 0, Y: 0}, {X: w, Y: 0}, {X: w, Y: h}, {X: 0, Y: h},
	}
}

func makeDescriptors(n int, seed byte) ([]Keypoint, []byte) {
	kps := make([]Keypoint, n)
	raw := make([]byte, n*DescriptorSize)
	for i := 0; i < n; i++ {
		kps[i] = Keypoint{X: float32(i), Y: float32(i * 2), Response: float32(n - i)}
		for b := 0; b < DescriptorSize; b++ {
			raw[i*DescriptorSize+b] = seed + byte(i+b)
		}
	}
	return kps, raw
}

func TestDatabase_AddGetRemove(t *testing.T) {
	db := NewTargetDatabase(testVocabConfig())
	kps, raw := makeDescriptors(20, 1)

	if err := db.Add("t1", kps, raw, 20, DescriptorSize, rectCorners(100, 100), 100, 100, []byte("meta")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if db.Len() != 1 {
		t.Fatalf("expected 1 target, got %d", db.Len())
	}
	target := db.Get("t1")
	if target == nil || target.ID != "t1" {
		t.Fatal("expected to retrieve target t1")
	}
	if len(target.Descriptors) != 20 {
		t.Fatalf("expected 20 descriptors, got %d", len(target.Descriptors))
	}

	db.Remove("t1")
	if db.Len() != 0 {
		t.Fatalf("expected 0 targets after remove, got %d", db.Len())
	}
	if db.Get("t1") != nil {
		t.Fatal("expected nil after remove")
	}

	// Removing again must be a no-op, not an error.
	db.Remove("t1")
}

func TestDatabase_AddDuplicateID(t *testing.T) {
	db := NewTargetDatabase(testVocabConfig())
	kps, raw := makeDescriptors(10, 1)

	if err := db.Add("t1", kps, raw, 10, DescriptorSize, rectCorners(50, 50), 50, 50, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := db.Add("t1", kps, raw, 10, DescriptorSize, rectCorners(50, 50), 50, 50, nil)
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
}

func TestDatabase_AddInvalidDescriptors(t *testing.T) {
	db := NewTargetDatabase(testVocabConfig())
	kps, raw := makeDescriptors(10, 1)

	// Wrong column width.
	if err := db.Add("t1", kps, raw, 10, 32, rectCorners(50, 50), 50, 50, nil); !errors.Is(err, ErrInvalidDescriptors) {
		t.Fatalf("expected ErrInvalidDescriptors for wrong width, got %v", err)
	}

	// Byte count mismatch vs rows*cols.
	if err := db.Add("t1", kps, raw[:len(raw)-1], 10, DescriptorSize, rectCorners(50, 50), 50, 50, nil); !errors.Is(err, ErrInvalidDescriptors) {
		t.Fatalf("expected ErrInvalidDescriptors for short buffer, got %v", err)
	}
}

func TestDatabase_ClearRoundTrip(t *testing.T) {
	db := NewTargetDatabase(testVocabConfig())
	kps, raw := makeDescriptors(10, 1)

	if err := db.Add("t1", kps, raw, 10, DescriptorSize, rectCorners(50, 50), 50, 50, nil); err != nil {
		t.Fatal(err)
	}
	if err := db.BuildVocabulary(); err != nil {
		t.Fatal(err)
	}
	db.Clear()
	if db.Len() != 0 {
		t.Fatalf("expected empty database after clear, got %d targets", db.Len())
	}

	// Re-loading the same target must behave identically (idempotent
	// round trip): same descriptor count, same query behaviour.
	if err := db.Add("t1", kps, raw, 10, DescriptorSize, rectCorners(50, 50), 50, 50, nil); err != nil {
		t.Fatal(err)
	}
	if db.Get("t1") == nil || len(db.Get("t1").Descriptors) != 10 {
		t.Fatal("expected target t1 restored with 10 descriptors")
	}
}

func TestDatabase_QueryCandidates_BypassesTreeBelowFour(t *testing.T) {
	db := NewTargetDatabase(testVocabConfig())
	for i := 0; i < 3; i++ {
		kps, raw := makeDescriptors(10, byte(i*10))
		id := string(rune('a' + i))
		if err := db.Add(id, kps, raw, 10, DescriptorSize, rectCorners(50, 50), 50, 50, nil); err != nil {
			t.Fatal(err)
		}
	}

	// No BuildVocabulary call — must not error with <=3 targets.
	ids, err := db.QueryCandidates([]Descriptor{{0xFF}}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected all 3 ids returned (bypass), got %d", len(ids))
	}
}

func TestDatabase_QueryCandidates_RequiresVocabularyAboveThree(t *testing.T) {
	db := NewTargetDatabase(testVocabConfig())
	for i := 0; i < 5; i++ {
		kps, raw := makeDescriptors(10, byte(i*10))
		id := string(rune('a' + i))
		if err := db.Add(id, kps, raw, 10, DescriptorSize, rectCorners(50, 50), 50, 50, nil); err != nil {
			t.Fatal(err)
		}
	}

	_, err := db.QueryCandidates([]Descriptor{{0xFF}}, 2)
	if !errors.Is(err, ErrVocabularyNotBuilt) {
		t.Fatalf("expected ErrVocabularyNotBuilt, got %v", err)
	}

	if err := db.BuildVocabulary(); err != nil {
		t.Fatal(err)
	}
	ids, err := db.QueryCandidates([]Descriptor{{0xFF}}, 2)
	if err != nil {
		t.Fatalf("unexpected error after build: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 candidate ids, got %d", len(ids))
	}
}

func TestDatabase_QueryCandidates_RanksSelfHighest(t *testing.T) {
	db := NewTargetDatabase(testVocabConfig())
	for i := 0; i < 6; i++ {
		kps, raw := makeDescriptors(15, byte(i*37))
		id := string(rune('a' + i))
		if err := db.Add(id, kps, raw, 15, DescriptorSize, rectCorners(50, 50), 50, 50, nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.BuildVocabulary(); err != nil {
		t.Fatal(err)
	}

	target := db.Get("c")
	ids, err := db.QueryCandidates(target.Descriptors, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "c" {
		t.Fatalf("expected target c to rank first for its own descriptors, got %v", ids)
	}
}

func TestDatabase_RefAspectRatio(t *testing.T) {
	target := &Target{RefCorners: rectCorners(200, 100)}
	if ar := target.refAspectRatio(); ar != 2.0 {
		t.Fatalf("expected aspect ratio 2.0, got %f", ar)
	}
}

func TestCorners_ZeroValueIsUsable(t *testing.T) {
	var c Corners
	if c[0] != (geometry.Point2D{}) {
		t.Fatal("expected zero-value corners to be the zero Point2D")
	}
}
