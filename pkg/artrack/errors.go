package artrack

import "errors"

// Sentinel errors returned by the public API. Callers should compare
// against these with errors.Is, since wrapped context is often added via
// fmt.Errorf("...: %w", err).
var (
	// ErrInvalidConfiguration is returned when a Configure option is out
	// of its allowed range.
	ErrInvalidConfiguration = errors.New("artrack: invalid configuration")
	// ErrInvalidFrame is returned when a pixel buffer is inconsistent
	// with its declared width, height, and channel count.
	ErrInvalidFrame = errors.New("artrack: invalid frame")
	// ErrDuplicateID is returned by AddTarget when the id already exists.
	ErrDuplicateID = errors.New("artrack: duplicate target id")
	// ErrUnknownID is returned by RemoveTarget when the id is not loaded.
	ErrUnknownID = errors.New("artrack: unknown target id")
	// ErrInvalidDescriptors is returned by AddTarget when the descriptor
	// byte count does not match rows*cols.
	ErrInvalidDescriptors = errors.New("artrack: invalid descriptors")
	// ErrVocabularyNotBuilt is returned by QueryCandidates when no
	// vocabulary tree has been built yet. It is non-fatal: the caller
	// may call BuildVocabulary and retry.
	ErrVocabularyNotBuilt = errors.New("artrack: vocabulary tree not built")
	// ErrOutOfMemory is returned when the memory pool (or host allocator)
	// refuses an allocation.
	ErrOutOfMemory = errors.New("artrack: out of memory")
	// ErrEngineNotRunning is returned by ProcessFrame when the engine has
	// not been started (or has been stopped).
	ErrEngineNotRunning = errors.New("artrack: engine is not running")
)
