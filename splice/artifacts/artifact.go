package artifacts

import (
	"errors"
	"slices"
	"sync"
	"time"
)

var ErrNotFound = errors.New("artifact not found")

// MissingError names the id that could not be found.
type MissingError struct {
	ID string
}

func (e *MissingError) Error() string {
	return "artifact not found: " + e.ID
}

func (e *MissingError) Is(target error) bool {
	return target == ErrNotFound
}

type Artifact struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Ext         string    `json:"ext"`
	ContentType string    `json:"contentType"`
	Path        string    `json:"-"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Index records artifact metadata. ListArtifacts returns artifacts in
// insertion order, oldest first. GetArtifact returns ErrNotFound for
// unknown ids.
type Index interface {
	AddArtifact(a Artifact) error
	RemoveArtifact(id string) error
	GetArtifact(id string) (Artifact, error)
	ListArtifacts() ([]Artifact, error)
	ClearArtifacts() error
}

// MemoryIndex is an Index that lives only as long as the process.
type MemoryIndex struct {
	mu   sync.Mutex
	list []Artifact
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{}
}

func (m *MemoryIndex) AddArtifact(a Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.list = append(m.list, a)
	return nil
}

func (m *MemoryIndex) RemoveArtifact(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.list = slices.DeleteFunc(m.list, func(a Artifact) bool { return a.ID == id })
	return nil
}

func (m *MemoryIndex) GetArtifact(id string) (Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.list {
		if a.ID == id {
			return a, nil
		}
	}
	return Artifact{}, ErrNotFound
}

func (m *MemoryIndex) ListArtifacts() ([]Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.list), nil
}

func (m *MemoryIndex) ClearArtifacts() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.list = nil
	return nil
}
