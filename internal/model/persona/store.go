package persona

// Store exposes persona retrieval for HTTP handlers.
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
}

// MemoryStore implements Store with an immutable in-memory slice loaded once at startup.
type MemoryStore struct {
	items []Persona
	index map[string]int
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied personas.
// Later entries with a duplicated id are ignored.
func NewMemoryStore(items []Persona) *MemoryStore {
	store := &MemoryStore{
		items: make([]Persona, 0, len(items)),
		index: make(map[string]int, len(items)),
	}
	for _, item := range items {
		if _, exists := store.index[item.ID]; exists {
			continue
		}
		store.index[item.ID] = len(store.items)
		store.items = append(store.items, clonePersona(item))
	}
	return store
}

// List returns the catalog in declaration order.
func (s *MemoryStore) List() []Persona {
	out := make([]Persona, len(s.items))
	for i, item := range s.items {
		out[i] = clonePersona(item)
	}
	return out
}

// FindByID looks up a persona by identifier.
func (s *MemoryStore) FindByID(id string) (Persona, bool) {
	idx, ok := s.index[id]
	if !ok {
		return Persona{}, false
	}
	return clonePersona(s.items[idx]), true
}

func clonePersona(p Persona) Persona {
	p.Tags = append([]string(nil), p.Tags...)
	return p
}
