package server

import (
	"sync"

	"github.com/google/uuid"
)

// ImageRecord is one uploaded firmware image held in memory until flashed.
type ImageRecord struct {
	ID   string
	Name string
	Data []byte
}

// ImageStore keeps uploaded firmware images keyed by UUID.
type ImageStore struct {
	mu sync.RWMutex
	m  map[string]*ImageRecord
}

func NewImageStore() *ImageStore {
	return &ImageStore{m: make(map[string]*ImageRecord)}
}

func (s *ImageStore) Put(name string, data []byte) *ImageRecord {
	rec := &ImageRecord{ID: uuid.NewString(), Name: name, Data: data}
	s.mu.Lock()
	s.m[rec.ID] = rec
	s.mu.Unlock()
	return rec
}

func (s *ImageStore) Get(id string) (*ImageRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.m[id]
	return r, ok
}

func (s *ImageStore) Delete(id string) {
	s.mu.Lock()
	delete(s.m, id)
	s.mu.Unlock()
}
