// Package backup stores versioned JSON snapshots in a pluggable storage.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"
)

const timestampLayout = "20060102-150405.000"

// ErrKindMismatch is returned when a snapshot holds a different kind.
var ErrKindMismatch = errors.New("snapshot kind mismatch")

// Snapshot is one stored backup. Payload holds the caller's JSON document.
type Snapshot struct {
	Version   string            `json:"version"`
	Kind      string            `json:"kind"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Decode unmarshals the payload into v.
func (s *Snapshot) Decode(v any) error {
	if err := json.Unmarshal(s.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s snapshot: %w", s.Kind, err)
	}
	return nil
}

// Storage defines interface for backup storage
type Storage interface {
	Save(ctx context.Context, name string, data io.Reader) error
	Load(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// Service creates, loads and prunes snapshots on a Storage.
type Service struct {
	storage Storage
	version string
	now     func() time.Time
}

// NewService creates a Service stamping snapshots with version.
func NewService(storage Storage, version string) *Service {
	return &Service{
		storage: storage,
		version: version,
		now:     time.Now,
	}
}

// Create stores payload as a new snapshot of kind and returns its name.
func (s *Service) Create(ctx context.Context, kind string, payload any, metadata map[string]string) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}

	snap := Snapshot{
		Version:   s.version,
		Kind:      kind,
		Timestamp: s.now().UTC(),
		Payload:   raw,
		Metadata:  metadata,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	name := SnapshotName(kind, snap.Timestamp)
	if err := s.storage.Save(ctx, name, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to save backup: %w", err)
	}
	return name, nil
}

// Load reads a snapshot and checks that it is of kind.
func (s *Service) Load(ctx context.Context, kind, name string) (*Snapshot, error) {
	reader, err := s.storage.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load backup: %w", err)
	}
	defer reader.Close()

	var snap Snapshot
	if err := json.NewDecoder(reader).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal backup %s: %w", name, err)
	}
	if snap.Version == "" {
		return nil, fmt.Errorf("invalid backup %s: missing version", name)
	}
	if snap.Kind != kind {
		return nil, fmt.Errorf("%w: %s holds %q, want %q", ErrKindMismatch, name, snap.Kind, kind)
	}
	return &snap, nil
}

// List returns the snapshot names of kind, oldest first.
func (s *Service) List(ctx context.Context, kind string) ([]string, error) {
	names, err := s.storage.List(ctx, kind+"-")
	if err != nil {
		return nil, err
	}
	names = slices.DeleteFunc(names, func(n string) bool {
		_, ok := ParseSnapshotName(kind, n)
		return !ok
	})
	slices.Sort(names)
	return names, nil
}

// Latest returns the newest snapshot name of kind, or "" when there is none.
func (s *Service) Latest(ctx context.Context, kind string) (string, error) {
	names, err := s.List(ctx, kind)
	if err != nil || len(names) == 0 {
		return "", err
	}
	return names[len(names)-1], nil
}

// Delete removes the named snapshot.
func (s *Service) Delete(ctx context.Context, name string) error {
	return s.storage.Delete(ctx, name)
}

// Prune deletes snapshots of kind older than retention. It keeps going after
// a failed delete and returns the names it removed.
func (s *Service) Prune(ctx context.Context, kind string, retention time.Duration) ([]string, error) {
	names, err := s.List(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	cutoff := s.now().Add(-retention)
	var removed []string
	var errs []error
	for _, name := range names {
		ts, _ := ParseSnapshotName(kind, name)
		if !ts.Before(cutoff) {
			continue
		}
		if err := s.storage.Delete(ctx, name); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, name)
	}
	return removed, errors.Join(errs...)
}

// SnapshotName builds the file name for a snapshot of kind taken at ts.
func SnapshotName(kind string, ts time.Time) string {
	return kind + "-" + ts.UTC().Format(timestampLayout) + ".json"
}

// ParseSnapshotName extracts the timestamp from a name built by SnapshotName.
func ParseSnapshotName(kind, name string) (time.Time, bool) {
	rest, ok := strings.CutPrefix(name, kind+"-")
	if !ok {
		return time.Time{}, false
	}
	rest, ok = strings.CutSuffix(rest, ".json")
	if !ok {
		return time.Time{}, false
	}
	ts, err := time.Parse(timestampLayout, rest)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
