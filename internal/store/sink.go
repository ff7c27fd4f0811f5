package store

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Sink accepts byte chunks for a single in-flight transfer and, on
// Commit, atomically publishes the result as an Artifact. Partial writes
// are never observable via ListArtifacts (spec.md §4.2 invariant).
type Sink struct {
	store    *Store
	file     *os.File
	senderIP net.IP

	bytesWritten int64
	closed       bool
}

// Write appends a chunk to the sink. It does not take the store-level
// lock (spec.md §5: "bulk byte writes into a sink do not require the
// store-level lock").
func (s *Sink) Write(p []byte) (int, error) {
	n, err := s.file.Write(p)
	s.bytesWritten += int64(n)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return n, nil
}

// BytesWritten reports the running byte count for the session.
func (s *Sink) BytesWritten() int64 {
	return s.bytesWritten
}

// Commit finalizes the sink: it closes the temporary file, picks a
// collision-free timestamped name, and renames into place. The artifact
// becomes visible to ListArtifacts only after Commit returns
// successfully (spec.md §4.2 invariant).
func (s *Sink) Commit() (Artifact, error) {
	if s.closed {
		return Artifact{}, fmt.Errorf("store: sink already closed")
	}
	s.closed = true

	if err := s.file.Close(); err != nil {
		_ = os.Remove(s.file.Name())
		return Artifact{}, fmt.Errorf("%w: close temp file: %v", ErrWrite, err)
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	receivedAt := time.Now()
	finalPath, err := s.store.reserveNameLocked(receivedAt, s.senderIP)
	if err != nil {
		_ = os.Remove(s.file.Name())
		return Artifact{}, fmt.Errorf("%w: %v", ErrWrite, err)
	}

	if err := os.Rename(s.file.Name(), finalPath); err != nil {
		_ = os.Remove(s.file.Name())
		return Artifact{}, fmt.Errorf("%w: rename into place: %v", ErrWrite, err)
	}

	return Artifact{
		Path:       finalPath,
		SenderIP:   s.senderIP,
		ReceivedAt: receivedAt,
		Size:       s.bytesWritten,
		ID:         uuid.New(),
	}, nil
}

// Abort discards the partial file. The session's caller transitions to
// Failed after calling Abort (spec.md §4.4).
func (s *Sink) Abort() error {
	if s.closed {
		return nil
	}
	s.closed = true

	_ = s.file.Close()
	return os.Remove(s.file.Name())
}

// reserveNameLocked finds the first collision-free filename for
// (receivedAt, senderIP) at 1-second resolution, appending a monotonic
// "-1", "-2", ... suffix as needed (spec.md §4.2 invariant). Callers
// must hold s.mu.
func (s *Store) reserveNameLocked(receivedAt time.Time, senderIP net.IP) (string, error) {
	for attempt := 0; attempt < 10000; attempt++ {
		name := buildFilename(receivedAt, senderIP, attempt)
		path := filepath.Join(s.dir, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path, nil
		}
	}
	return "", fmt.Errorf("exhausted collision-suffix attempts for %s", senderIP)
}
