package ingestion

import "sync"

// Locks serialises work on one document. Ingestion holds a document's lock
// while persisting and deletion holds it for the whole protocol.
type Locks struct {
	mu   sync.Mutex
	held map[string]*docLock
}

type docLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocks creates an empty lock table.
func NewLocks() *Locks {
	return &Locks{held: make(map[string]*docLock)}
}

// Lock blocks until the document's lock is held and returns its release.
func (l *Locks) Lock(docID string) (unlock func()) {
	l.mu.Lock()
	dl, ok := l.held[docID]
	if !ok {
		dl = &docLock{}
		l.held[docID] = dl
	}
	dl.refs++
	l.mu.Unlock()

	dl.mu.Lock()
	return func() {
		dl.mu.Unlock()
		l.mu.Lock()
		dl.refs--
		if dl.refs == 0 {
			delete(l.held, docID)
		}
		l.mu.Unlock()
	}
}

// Len returns how many documents are locked or awaited.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}
