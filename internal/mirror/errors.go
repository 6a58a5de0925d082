package mirror

import "errors"

var (
	// ErrNotFound is returned when the source has no page with the requested title.
	ErrNotFound = errors.New("page not found in source")
	// ErrObjectNotFound is returned when the object store has no such key.
	ErrObjectNotFound = errors.New("object not found")
	// ErrUnsorted is returned when the source list is not in descending updated order.
	ErrUnsorted = errors.New("source list is not sorted by updated descending")
)
