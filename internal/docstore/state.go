package docstore

import (
	"fmt"
	"sort"
)

// State is the codec-encodable view of a Store, used as snapshot
// payload. Collections are sorted by name and documents kept in
// insertion order, so the same contents always export to the same
// bytes.
type State struct {
	Collections []CollectionState `json:"collections"`
}

// CollectionState is one collection's documents.
type CollectionState struct {
	Name string     `json:"name"`
	Docs []Document `json:"docs"`
}

// ExportState satisfies the durability layer's state-export contract.
func (s *Store) ExportState() (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := &State{}

	for _, name := range s.namesLocked() {
		state.Collections = append(state.Collections, CollectionState{
			Name: name,
			Docs: s.collections[name].Find(nil),
		})
	}

	return state, nil
}

func (s *Store) namesLocked() []string {
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// ImportState replaces the Store's contents with a decoded snapshot
// state. Called once during recovery, before the handle accepts
// writes.
func (s *Store) ImportState(state *State) error {
	s.mu.Lock()
	s.collections = make(map[string]*Collection)
	s.mu.Unlock()

	for _, cs := range state.Collections {
		c, err := s.Create(cs.Name)
		if err != nil {
			return fmt.Errorf("restore collection %q: %w", cs.Name, err)
		}

		if len(cs.Docs) == 0 {
			continue
		}

		if _, err := c.Insert(cs.Docs...); err != nil {
			return fmt.Errorf("restore collection %q: %w", cs.Name, err)
		}
	}

	return nil
}
