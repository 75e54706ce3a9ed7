package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"splice.sh/core/log"
)

const DefaultCapacity = 10

var extPattern = regexp.MustCompile(`^[a-z0-9]{1,16}$`)

// Store owns the artifact directory. Every mutation happens under one
// mutex, so persisting and the eviction it triggers are atomic with
// respect to other requests.
type Store struct {
	mu       sync.Mutex
	dir      string
	capacity int
	index    Index
	pins     map[string]int
	l        *slog.Logger
}

type StoreOpt func(*Store)

func WithCapacity(n int) StoreOpt {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// NewStore keeps artifacts under dir, made absolute against the
// current working directory.
func NewStore(ctx context.Context, dir string, index Index, opts ...StoreOpt) (*Store, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving artifact dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating artifact dir: %w", err)
	}

	s := &Store{
		dir:      dir,
		capacity: DefaultCapacity,
		index:    index,
		pins:     make(map[string]int),
		l:        log.FromContext(ctx).With("component", "artifacts"),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Persist copies src into the store under a fresh id and evicts the
// oldest unpinned artifacts beyond capacity.
func (s *Store) Persist(ctx context.Context, src io.Reader, ext, contentType, name string) (Artifact, error) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if !extPattern.MatchString(ext) {
		return Artifact{}, fmt.Errorf("invalid artifact extension %q", ext)
	}

	id := uuid.NewString()
	path, err := securejoin.SecureJoin(s.dir, id+"."+ext)
	if err != nil {
		return Artifact{}, err
	}

	tmp, err := os.CreateTemp(s.dir, ".incoming-*")
	if err != nil {
		return Artifact{}, fmt.Errorf("creating artifact file: %w", err)
	}
	defer os.Remove(tmp.Name())

	size, err := io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("writing artifact: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}

	if name == "" {
		name = "output." + ext
	}
	a := Artifact{
		ID:          id,
		Name:        name,
		Ext:         ext,
		ContentType: contentType,
		Path:        path,
		Size:        size,
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Rename(tmp.Name(), path); err != nil {
		return Artifact{}, fmt.Errorf("storing artifact: %w", err)
	}
	if err := s.index.AddArtifact(a); err != nil {
		os.Remove(path)
		return Artifact{}, fmt.Errorf("indexing artifact: %w", err)
	}
	s.l.Info("stored artifact", "id", id, "name", name, "size", humanize.Bytes(uint64(size)))

	s.pruneLocked()
	return a, nil
}

// PersistFile is Persist for a file on disk.
func (s *Store) PersistFile(ctx context.Context, path, contentType, name string) (Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return Artifact{}, err
	}
	defer f.Close()

	ext := ""
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		ext = path[i+1:]
	}
	return s.Persist(ctx, f, ext, contentType, name)
}

func (s *Store) Lookup(id string) (Artifact, error) {
	return s.index.GetArtifact(id)
}

// List returns the stored artifacts, oldest first.
func (s *Store) List() ([]Artifact, error) {
	return s.index.ListArtifacts()
}

// Reset deletes every artifact and its backing file.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(s.dir); err != nil {
		s.l.Warn("failed to remove artifact dir", "dir", s.dir, "error", err)
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("recreating artifact dir: %w", err)
	}
	if err := s.index.ClearArtifacts(); err != nil {
		return err
	}

	s.l.InfoContext(ctx, "artifact store reset")
	return nil
}

// Pin protects ids from eviction until the returned function is
// called. Pins nest. Unpinning runs the eviction that was deferred
// while the pin was held.
func (s *Store) Pin(ids ...string) (unpin func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pinLocked(ids)
}

// PinLookup looks up ids and pins them in one step, so none of them
// can be evicted between the lookup and the pin. If any id is unknown
// nothing is pinned and the error is a *MissingError.
func (s *Store) PinLookup(ids ...string) ([]Artifact, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := make([]Artifact, 0, len(ids))
	for _, id := range ids {
		a, err := s.index.GetArtifact(id)
		if errors.Is(err, ErrNotFound) {
			return nil, nil, &MissingError{ID: id}
		}
		if err != nil {
			return nil, nil, err
		}
		found = append(found, a)
	}

	return found, s.pinLocked(ids), nil
}

func (s *Store) pinLocked(ids []string) func() {
	for _, id := range ids {
		s.pins[id]++
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for _, id := range ids {
				if s.pins[id]--; s.pins[id] <= 0 {
					delete(s.pins, id)
				}
			}
			s.pruneLocked()
		})
	}
}

func (s *Store) pinned(id string) bool {
	return s.pins[id] > 0
}

func (s *Store) pruneLocked() {
	list, err := s.index.ListArtifacts()
	if err != nil {
		s.l.Error("failed to list artifacts for pruning", "error", err)
		return
	}

	if len(list) == 0 {
		return
	}

	// the newest artifact is never evicted, even when everything older
	// is pinned
	newest := list[len(list)-1].ID
	protected := func(id string) bool {
		return id == newest || s.pinned(id)
	}

	_, evicted := selectEvictions(list, s.capacity, protected)
	for _, a := range evicted {
		if err := s.index.RemoveArtifact(a.ID); err != nil {
			s.l.Error("failed to unindex artifact", "id", a.ID, "error", err)
			continue
		}
		removeBacking(a)
		s.l.Info("evicted artifact", "id", a.ID, "name", a.Name)
	}
}

// Prune is eviction as a standalone operation over a list: it returns
// the newest capacity entries of list, which is ordered oldest first,
// and deletes the backing files of the rest, ignoring failures. It
// knows nothing of pins or the index; the Store evicts through the
// same selection with pinned ids and its newest artifact protected.
func Prune(list []Artifact, capacity int) []Artifact {
	kept, evicted := selectEvictions(list, capacity, nil)
	for _, a := range evicted {
		removeBacking(a)
	}
	return kept
}

// selectEvictions walks list oldest first and evicts until at most
// capacity entries remain, skipping protected ones.
func selectEvictions(list []Artifact, capacity int, protected func(string) bool) (kept, evicted []Artifact) {
	excess := len(list) - capacity
	if excess <= 0 {
		return list, nil
	}

	kept = make([]Artifact, 0, capacity)
	for _, a := range list {
		if excess > 0 && (protected == nil || !protected(a.ID)) {
			evicted = append(evicted, a)
			excess--
			continue
		}
		kept = append(kept, a)
	}
	return kept, evicted
}

func removeBacking(a Artifact) {
	_ = os.Remove(a.Path)
}
