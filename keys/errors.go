package keys

import "errors"

var (
	// ErrKeyNotFound is returned when a version is not present in the manifest.
	ErrKeyNotFound = errors.New("key version not found")
	// ErrNoManifest is returned by a Store that has never persisted a manifest.
	ErrNoManifest = errors.New("no key manifest")
	// ErrInvalidManifest reports a manifest that violates its invariants.
	ErrInvalidManifest = errors.New("invalid key manifest")
	// ErrPersist wraps every Store failure during a mutation.
	ErrPersist = errors.New("key manifest persistence failed")
	// ErrNotOpen is returned by readers on a Manager that was never opened.
	ErrNotOpen = errors.New("key manager not open")
)
