package realtime

import (
	"context"
	"sort"
	"time"
)

// ChangeType classifies a document change relative to a watcher's query.
type ChangeType string

const (
	Added    ChangeType = "ADDED"
	Modified ChangeType = "MODIFIED"
	Removed  ChangeType = "REMOVED"
)

// DocChange is one typed change. Doc is the zero value for Removed.
type DocChange[T any] struct {
	Type ChangeType `json:"type"`
	ID   string     `json:"id"`
	Doc  T          `json:"doc"`
}

// Event is one delivery: the changes that caused it and the full matching
// set after applying them.
type Event[T any] struct {
	Changes  []DocChange[T] `json:"changes"`
	Snapshot []T            `json:"snapshot"`
}

// Query describes a live view over one collection.
type Query[T any] struct {
	Collection string
	// Load returns the current matching documents.
	Load func(ctx context.Context) ([]T, error)
	// Match decides membership for documents arriving on the broker.
	Match func(T) bool
	Key   func(T) string
	// Version orders writes to one document; older writes are ignored.
	Version func(T) time.Time
	// Less orders the snapshot. Nil keeps key order.
	Less   func(a, b T) bool
	Buffer int
}

// Watch subscribes to q.Collection, emits the loaded documents as one
// all-ADDED event and then one event per relevant change. The returned
// channel is closed when ctx is done or when the watcher falls behind and
// the broker drops it.
func Watch[T any](ctx context.Context, b *Broker, q Query[T]) (<-chan Event[T], error) {
	// subscribe before loading so nothing committed in between is missed
	changes, unsubscribe := b.Subscribe(q.Collection, q.Buffer)
	docs, err := q.Load(ctx)
	if err != nil {
		unsubscribe()
		return nil, err
	}

	w := &watcher[T]{q: q, cache: make(map[string]T, len(docs))}
	first := Event[T]{Changes: make([]DocChange[T], 0, len(docs))}
	for _, d := range docs {
		k := q.Key(d)
		w.cache[k] = d
		first.Changes = append(first.Changes, DocChange[T]{Type: Added, ID: k, Doc: d})
	}
	first.Snapshot = w.snapshot()

	out := make(chan Event[T], 1)
	out <- first
	go func() {
		defer close(out)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-changes:
				if !ok {
					return
				}
				if ctx.Err() != nil {
					return
				}
				dc, ok := w.apply(c)
				if !ok {
					continue
				}
				ev := Event[T]{Changes: []DocChange[T]{dc}, Snapshot: w.snapshot()}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

type watcher[T any] struct {
	q     Query[T]
	cache map[string]T
}

// apply folds one broker change into the cache and reports the resulting
// typed change, if any.
func (w *watcher[T]) apply(c Change) (DocChange[T], bool) {
	var zero T
	prev, had := w.cache[c.ID]
	if c.Deleted {
		if !had {
			return DocChange[T]{}, false
		}
		delete(w.cache, c.ID)
		return DocChange[T]{Type: Removed, ID: c.ID, Doc: zero}, true
	}
	doc, ok := c.Doc.(T)
	if !ok {
		return DocChange[T]{}, false
	}
	if had && w.q.Version != nil && w.q.Version(doc).Before(w.q.Version(prev)) {
		return DocChange[T]{}, false
	}
	match := w.q.Match == nil || w.q.Match(doc)
	switch {
	case match && had:
		w.cache[c.ID] = doc
		return DocChange[T]{Type: Modified, ID: c.ID, Doc: doc}, true
	case match:
		w.cache[c.ID] = doc
		return DocChange[T]{Type: Added, ID: c.ID, Doc: doc}, true
	case had:
		delete(w.cache, c.ID)
		return DocChange[T]{Type: Removed, ID: c.ID, Doc: zero}, true
	}
	return DocChange[T]{}, false
}

func (w *watcher[T]) snapshot() []T {
	keys := make([]string, 0, len(w.cache))
	for k := range w.cache {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, w.cache[k])
	}
	if w.q.Less != nil {
		sort.SliceStable(out, func(i, j int) bool { return w.q.Less(out[i], out[j]) })
	}
	return out
}
