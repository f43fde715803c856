// Package pagination provides an immutable, deduplicated, cursor-paginated
// collection used as the client-side cache for chats and messages.
package pagination

import "github.com/capitalize-ai/chatsync/internal/model"

// Collection is an ordered (newest-first) list of items that never holds two
// items with the same key. Every operation returns a new value and leaves the
// receiver untouched, so a Collection can be shared freely between readers.
type Collection[T any] struct {
	items   []T
	cursor  string
	hasMore bool
	key     func(T) string
}

// New returns an empty collection keyed by key.
func New[T any](key func(T) string) Collection[T] {
	return Collection[T]{key: key}
}

// Items returns a copy of the items, newest first.
func (c Collection[T]) Items() []T {
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of items.
func (c Collection[T]) Len() int { return len(c.items) }

// Cursor returns the cursor for the next older page, or "".
func (c Collection[T]) Cursor() string { return c.cursor }

// HasMore reports whether older pages remain.
func (c Collection[T]) HasMore() bool { return c.hasMore }

// Index returns the position of the item with the given key, or -1.
func (c Collection[T]) Index(id string) int {
	for i, it := range c.items {
		if c.key(it) == id {
			return i
		}
	}
	return -1
}

// Get returns the item with the given key.
func (c Collection[T]) Get(id string) (T, bool) {
	if i := c.Index(id); i >= 0 {
		return c.items[i], true
	}
	var zero T
	return zero, false
}

// Replace discards all items and stores the page. Duplicate keys inside the
// page keep their first occurrence.
func (c Collection[T]) Replace(page model.Page[T]) Collection[T] {
	seen := make(map[string]struct{}, len(page.Items))
	items := make([]T, 0, len(page.Items))
	for _, it := range page.Items {
		k := c.key(it)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		items = append(items, it)
	}
	return Collection[T]{items: items, cursor: page.Cursor(), hasMore: page.HasMore, key: c.key}
}

// AppendOlder adds an older page after the existing items. Items whose key is
// already present are skipped. Cursor and hasMore come from the page.
func (c Collection[T]) AppendOlder(page model.Page[T]) Collection[T] {
	seen := c.keys()
	items := make([]T, len(c.items), len(c.items)+len(page.Items))
	copy(items, c.items)
	for _, it := range page.Items {
		k := c.key(it)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		items = append(items, it)
	}
	return Collection[T]{items: items, cursor: page.Cursor(), hasMore: page.HasMore, key: c.key}
}

// PrependNewer inserts item at the head. If an item with the same key exists
// the receiver is returned unchanged and the second result is false.
func (c Collection[T]) PrependNewer(item T) (Collection[T], bool) {
	if c.Index(c.key(item)) >= 0 {
		return c, false
	}
	items := make([]T, 0, len(c.items)+1)
	items = append(items, item)
	items = append(items, c.items...)
	out := c
	out.items = items
	return out, true
}

// ReplaceByID transforms the item with the given key in place. If the
// updated item takes a key already held by another item, the updated item is
// dropped so that keys stay unique. Returns false when id is unknown.
func (c Collection[T]) ReplaceByID(id string, update func(T) T) (Collection[T], bool) {
	i := c.Index(id)
	if i < 0 {
		return c, false
	}
	next := update(c.items[i])
	nk := c.key(next)

	items := make([]T, 0, len(c.items))
	for j, it := range c.items {
		switch {
		case j == i:
			if nk != id && c.Index(nk) >= 0 {
				continue
			}
			items = append(items, next)
		default:
			items = append(items, it)
		}
	}
	out := c
	out.items = items
	return out, true
}

// RemoveWhere drops every item matching pred. Returns false when nothing
// matched.
func (c Collection[T]) RemoveWhere(pred func(T) bool) (Collection[T], bool) {
	items := make([]T, 0, len(c.items))
	for _, it := range c.items {
		if !pred(it) {
			items = append(items, it)
		}
	}
	if len(items) == len(c.items) {
		return c, false
	}
	out := c
	out.items = items
	return out, true
}

// Clear empties the collection and resets the cursor.
func (c Collection[T]) Clear() Collection[T] {
	return New(c.key)
}

func (c Collection[T]) keys() map[string]struct{} {
	seen := make(map[string]struct{}, len(c.items))
	for _, it := range c.items {
		seen[c.key(it)] = struct{}{}
	}
	return seen
}
