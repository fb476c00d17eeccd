package lister

import (
	"fmt"
	"strings"
)

// ListError reports a failed list call for one prefix.
type ListError struct {
	Prefix string
	Err    error
}

func (e *ListError) Error() string {
	return fmt.Sprintf("list prefix %q: %v", e.Prefix, e.Err)
}

func (e *ListError) Unwrap() error { return e.Err }

// EntryNameError reports a key that yields no safe entry name under the
// requested folder: too shallow, or carrying "." / ".." / empty segments.
type EntryNameError struct {
	Key    string
	Folder string
}

func (e *EntryNameError) Error() string {
	return fmt.Sprintf("key %q has no valid entry name under folder %q", e.Key, e.Folder)
}

// EntryCollisionError reports distinct source keys that map to the same
// archive entry.
type EntryCollisionError struct {
	EntryName string
	Keys      []string
}

func (e *EntryCollisionError) Error() string {
	return fmt.Sprintf("entry %q produced by multiple keys: %s", e.EntryName, strings.Join(e.Keys, ", "))
}
