package prompt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrResourceNotFound is returned for operations on an unknown resource ID.
var ErrResourceNotFound = errors.New("prompt: resource not found")

// ErrInvalidResource is returned when a resource lacks a title or content.
var ErrInvalidResource = errors.New("prompt: resource needs a title and content")

// Store holds the current settings. All methods are safe for concurrent use
// and exchange copies, never references into the store.
type Store struct {
	mu       sync.RWMutex
	settings Settings
	lastID   int64
	now      func() time.Time
}

// NewStore creates a Store seeded with s.
func NewStore(s Settings) (*Store, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &Store{settings: s.Clone(), now: time.Now}, nil
}

// Get returns a copy of the current settings.
func (st *Store) Get() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.settings.Clone()
}

// Replace swaps in s after validating it.
func (st *Store) Replace(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.settings = s.Clone()
	return nil
}

// SystemInstruction renders the current settings.
func (st *Store) SystemInstruction() string {
	return BuildSystemInstruction(st.Get())
}

// Resource returns the resource with the given ID.
func (st *Store) Resource(id string) (Resource, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if i := st.indexOf(id); i >= 0 {
		return st.settings.Resources[i], nil
	}
	return Resource{}, fmt.Errorf("%w: %q", ErrResourceNotFound, id)
}

// AddResource appends a new resource and returns it with its generated ID.
// An empty chapter files the resource under [GeneralChapter].
func (st *Store) AddResource(title, chapter, content string) (Resource, error) {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(content) == "" {
		return Resource{}, ErrInvalidResource
	}
	if strings.TrimSpace(chapter) == "" {
		chapter = GeneralChapter
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	r := Resource{
		ID:      st.nextID(),
		Title:   title,
		Chapter: strings.TrimSpace(chapter),
		Content: content,
	}
	st.settings.Resources = append(st.settings.Resources, r)
	return r, nil
}

// RemoveResource deletes the resource with the given ID.
func (st *Store) RemoveResource(id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	i := st.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrResourceNotFound, id)
	}
	st.settings.Resources = append(st.settings.Resources[:i:i], st.settings.Resources[i+1:]...)
	return nil
}

// UpdateResource applies fn to the resource with the given ID under the
// store's lock and returns the result. fn must not change the ID.
func (st *Store) UpdateResource(id string, fn func(*Resource)) (Resource, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	i := st.indexOf(id)
	if i < 0 {
		return Resource{}, fmt.Errorf("%w: %q", ErrResourceNotFound, id)
	}
	r := st.settings.Resources[i]
	fn(&r)
	r.ID = id
	st.settings.Resources[i] = r
	return r, nil
}

// indexOf must be called with st.mu held.
func (st *Store) indexOf(id string) int {
	for i, r := range st.settings.Resources {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// nextID returns a millisecond timestamp ID, bumped past the previous one
// and any existing ID. Must be called with st.mu held.
func (st *Store) nextID() string {
	id := st.now().UnixMilli()
	if id <= st.lastID {
		id = st.lastID + 1
	}
	for st.indexOf(strconv.FormatInt(id, 10)) >= 0 {
		id++
	}
	st.lastID = id
	return strconv.FormatInt(id, 10)
}
