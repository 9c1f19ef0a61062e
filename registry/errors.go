package registry

import "errors"

// ErrNotFound is returned by Replace when asked to delete (newItem == nil)
// a key that has no slot: deleting a non-existent key fails rather than
// silently succeeding.
var ErrNotFound = errors.New("registry: key not found")
