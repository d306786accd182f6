package session

import "sync"

// registry is the in-memory table of session records: the single source of
// truth for lifecycle state. Writes are exclusive; reads return copies so
// callers can never mutate a record behind the registry's back.
type registry struct {
	mu     sync.RWMutex
	byID   map[string]*Record
	byName map[string]string // name -> id
}

func newRegistry() *registry {
	return &registry{
		byID:   make(map[string]*Record),
		byName: make(map[string]string),
	}
}

func (r *registry) insert(rec *Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[rec.ID] = rec
	r.byName[rec.Name] = rec.ID
}

func (r *registry) get(id string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	if !ok {
		return Record{}, false
	}
	return cloneRecord(rec), true
}

func (r *registry) idByName(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	return id, ok
}

func (r *registry) setStatus(id string, status Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return false
	}
	rec.Status = status
	return true
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.byID[id]; ok {
		delete(r.byName, rec.Name)
		delete(r.byID, id)
	}
}

func (r *registry) list() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.byID))
	for _, rec := range r.byID {
		out = append(out, cloneRecord(rec))
	}
	return out
}

func cloneRecord(rec *Record) Record {
	c := *rec
	if rec.Labels != nil {
		c.Labels = make(map[string]string, len(rec.Labels))
		for k, v := range rec.Labels {
			c.Labels[k] = v
		}
	}
	return c
}
