package exchange

import (
	"sort"
	"sync"
)

type entityKind int

const (
	kindOffer entityKind = iota
	kindRequest
	kindMatch
)

// entityIndex resolves an id to its course and lists what each student owns,
// so lookups by id do not have to visit every CourseQueue.
type entityIndex struct {
	mu        sync.RWMutex
	crnOf     map[string]string
	kindOf    map[string]entityKind
	byStudent map[string]map[string]struct{}
}

func newEntityIndex() *entityIndex {
	return &entityIndex{
		crnOf:     make(map[string]string),
		kindOf:    make(map[string]entityKind),
		byStudent: make(map[string]map[string]struct{}),
	}
}

// add registers id. studentHash is empty for matches.
func (x *entityIndex) add(id, crn string, kind entityKind, studentHash string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.crnOf[id] = crn
	x.kindOf[id] = kind
	if studentHash == "" {
		return
	}
	owned, ok := x.byStudent[studentHash]
	if !ok {
		owned = make(map[string]struct{})
		x.byStudent[studentHash] = owned
	}
	owned[id] = struct{}{}
}

func (x *entityIndex) lookup(id string, kind entityKind) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	crn, ok := x.crnOf[id]
	if !ok || x.kindOf[id] != kind {
		return "", false
	}
	return crn, true
}

// owned returns the ids a student owns, sorted for stable output.
func (x *entityIndex) owned(studentHash string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	ids := make([]string, 0, len(x.byStudent[studentHash]))
	for id := range x.byStudent[studentHash] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (x *entityIndex) forget(id, studentHash string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.crnOf, id)
	delete(x.kindOf, id)
	if owned, ok := x.byStudent[studentHash]; ok {
		delete(owned, id)
		if len(owned) == 0 {
			delete(x.byStudent, studentHash)
		}
	}
}
