package calendar

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var ErrPractitionerNotFound = errors.New("practitioner not found")

// Store looks up a practitioner's calendar template.
type Store interface {
	Get(ctx context.Context, practitionerID uuid.UUID) (*Template, error)
}

// Writer replaces a practitioner's calendar template.
type Writer interface {
	Put(ctx context.Context, tmpl *Template) error
}

// MemoryStore keeps templates in process. Used by tests.
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[uuid.UUID]Template
}

func NewMemoryStore(templates ...Template) *MemoryStore {
	s := &MemoryStore{templates: make(map[uuid.UUID]Template)}
	for _, t := range templates {
		s.templates[t.PractitionerID] = t
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, practitionerID uuid.UUID) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[practitionerID]
	if !ok {
		return nil, ErrPractitionerNotFound
	}
	return &t, nil
}

func (s *MemoryStore) Put(_ context.Context, tmpl *Template) error {
	if err := tmpl.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[tmpl.PractitionerID] = *tmpl
	return nil
}
