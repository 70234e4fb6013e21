package model

import (
	"fmt"
	"strings"
)

// ResolveCollectionPath turns a collection handle into an addressable
// collection path.
//
// A bare name is a top-level collection. "parent/sub" has no parent document
// id, so it is addressed through a document named after the parent collection:
// "parent/parent/sub". Paths that already alternate collection/document
// segments (odd count, three or more) are returned unchanged.
func ResolveCollectionPath(path string) (string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	parts := strings.Split(path, "/")
	for _, p := range parts {
		if p == "" {
			return "", fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, path)
		}
	}

	switch {
	case len(parts) == 1:
		return path, nil
	case len(parts) == 2:
		return parts[0] + "/" + parts[0] + "/" + parts[1], nil
	case len(parts)%2 == 1:
		return path, nil
	default:
		return "", fmt.Errorf("%w: %q points at a document", ErrInvalidPath, path)
	}
}

// DocumentPath joins a resolved collection path and a document id.
func DocumentPath(collection, id string) string {
	return collection + "/" + id
}

// ParentPath returns the document path owning a sub-collection, or "" for a
// top-level collection.
func ParentPath(collection string) string {
	if idx := strings.LastIndex(collection, "/"); idx != -1 {
		return collection[:idx]
	}
	return ""
}
