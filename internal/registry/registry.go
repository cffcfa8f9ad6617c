// ABOUTME: Append-only on-disk registry of app identities issued by the gateway
// ABOUTME: Provides Find (linear scan), Append, guarded Insert and List over one file

package registry

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxNameLength is the longest display name (in characters) an app may register with.
const MaxNameLength = 24

var (
	// ErrNotFound is returned when no record carries the requested id.
	ErrNotFound = errors.New("app not found")

	// ErrAlreadyExists is returned by Insert when the id is already registered.
	ErrAlreadyExists = errors.New("app already exists")

	// ErrCorrupt is returned when the file holds a record that cannot be read back.
	ErrCorrupt = errors.New("registry file is corrupt")

	// ErrInvalidID is returned by ParseID for anything but a 32 or 36 character UUID.
	ErrInvalidID = errors.New("invalid app id")

	// ErrInvalidIdentity is returned when asked to persist an incomplete identity.
	ErrInvalidIdentity = errors.New("invalid app identity")
)

// AppIdentity binds a client-chosen id to its display name and the Ed25519
// public key the gateway issued for it. Records are never modified once written.
type AppIdentity struct {
	ID        uuid.UUID
	Name      string
	VerifyKey ed25519.PublicKey
}

func (a *AppIdentity) validate() error {
	if a == nil {
		return ErrInvalidIdentity
	}
	if n := utf8.RuneCountInString(a.Name); n == 0 || n > MaxNameLength {
		return fmt.Errorf("%w: name must be between 1 and %d characters", ErrInvalidIdentity, MaxNameLength)
	}
	if len(a.VerifyKey) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: verify key must be %d bytes", ErrInvalidIdentity, ed25519.PublicKeySize)
	}
	return nil
}

// ParseID decodes a textual app id. Only the hyphenated (36 chars) and compact
// (32 chars) UUID forms are accepted.
func ParseID(s string) (uuid.UUID, error) {
	if len(s) != 32 && len(s) != 36 {
		return uuid.Nil, fmt.Errorf("%w: length %d", ErrInvalidID, len(s))
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	return id, nil
}

// Registry is the append-only identity file. The file is opened per operation;
// the mutex only orders this process's readers against its check-then-append.
type Registry struct {
	mu   sync.RWMutex
	path string
}

// New returns a registry backed by the file at path. The file is created on
// the first append; a missing file reads as an empty registry.
func New(path string) *Registry {
	return &Registry{path: path}
}

// Path returns the location of the registry file.
func (r *Registry) Path() string {
	return r.path
}

// Find returns the identity registered under id, or ErrNotFound.
func (r *Registry) Find(id uuid.UUID) (*AppIdentity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	found, _, err := r.find(id)
	return found, err
}

// find also returns the offset where the last complete record ends. That
// offset is only meaningful when the result is ErrNotFound, since only then
// has the whole file been read.
func (r *Registry) find(id uuid.UUID) (*AppIdentity, int64, error) {
	var found *AppIdentity
	end, err := r.scan(func(s *recordScanner, entryID uuid.UUID, bodyLen uint64) (bool, error) {
		if entryID != id {
			return true, s.skip(bodyLen)
		}
		body, err := s.body(bodyLen)
		if err != nil {
			return false, err
		}
		found, err = decodeBody(entryID, body)
		return false, err
	})
	if err != nil {
		return nil, 0, err
	}
	if found == nil {
		return nil, end, ErrNotFound
	}
	return found, 0, nil
}

// Append writes identity as a new record after the last complete record. It
// does not check for an existing record with the same id; use Insert for that.
func (r *Registry) Append(identity *AppIdentity) error {
	if err := identity.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	end, err := r.scan(func(s *recordScanner, _ uuid.UUID, bodyLen uint64) (bool, error) {
		return true, s.skip(bodyLen)
	})
	if err != nil {
		return fmt.Errorf("reading registry: %w", err)
	}
	return r.append(identity, end)
}

// append writes identity at offset end. Anything after end can only be a
// length prefix torn by an interrupted write; it is cut off first so the new
// record starts on a record boundary.
func (r *Registry) append(identity *AppIdentity, end int64) error {
	if err := identity.validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening registry: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat registry: %w", err)
	}
	if size := info.Size(); size > end {
		if size-end >= lengthPrefixSize {
			_ = f.Close()
			return fmt.Errorf("%w: %d unread bytes after offset %d", ErrCorrupt, size-end, end)
		}
		if err := f.Truncate(end); err != nil {
			_ = f.Close()
			return fmt.Errorf("dropping torn record prefix: %w", err)
		}
	}

	// Prefix and record go out in a single write so an append is never split
	// across two syscalls.
	if _, err := f.WriteAt(frame(identity), end); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing registry record: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("syncing registry: %w", err)
	}
	return f.Close()
}

// Insert appends identity unless its id is already registered, in which case
// ErrAlreadyExists is returned and nothing is written.
func (r *Registry) Insert(identity *AppIdentity) error {
	if identity == nil {
		return ErrInvalidIdentity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, end, err := r.find(identity.ID)
	switch {
	case err == nil:
		return ErrAlreadyExists
	case !errors.Is(err, ErrNotFound):
		return fmt.Errorf("checking for existing app: %w", err)
	}
	return r.append(identity, end)
}

// List returns every identity in file order.
func (r *Registry) List() ([]AppIdentity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	apps := []AppIdentity{}
	_, err := r.scan(func(s *recordScanner, entryID uuid.UUID, bodyLen uint64) (bool, error) {
		body, err := s.body(bodyLen)
		if err != nil {
			return false, err
		}
		app, err := decodeBody(entryID, body)
		if err != nil {
			return false, err
		}
		apps = append(apps, *app)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return apps, nil
}

// scan opens the file and calls visit for each record header until visit
// returns false, an error occurs, or the records run out. When the records
// run out it returns the offset just past the last complete record.
func (r *Registry) scan(visit func(s *recordScanner, id uuid.UUID, bodyLen uint64) (bool, error)) (int64, error) {
	f, err := os.Open(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("opening registry: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat registry: %w", err)
	}

	s := newRecordScanner(f, info.Size())
	for {
		start := s.offset
		id, bodyLen, err := s.next()
		if errors.Is(err, errEndOfRecords) {
			return start, nil
		}
		if err != nil {
			return 0, err
		}
		more, err := visit(s, id, bodyLen)
		if err != nil || !more {
			return 0, err
		}
	}
}
