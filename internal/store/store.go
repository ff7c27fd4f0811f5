// Package store owns the on-disk set of received payloads: sink
// lifecycle (write → commit/abort), the stable filename scheme, and
// retention enforcement (spec.md §4.2).
package store

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Errors surfaced to callers, per spec.md §7's error taxonomy.
var (
	ErrWrite     = errors.New("store: write failed")
	ErrRetention = errors.New("store: retention delete failed")
)

const (
	filenamePrefix = "received_file_"
	filenameSuffix = ".raw"
	tsLayout       = "20060102_150405"
)

var filenameRe = regexp.MustCompile(`^received_file_(\d{8}_\d{6})(?:-(\d+))?_([0-9_]+)\.raw$`)

// Artifact is the Go realization of a Stored artifact (spec.md §3).
type Artifact struct {
	Path       string
	SenderIP   net.IP
	ReceivedAt time.Time
	Size       int64
	// ID is an internal correlation handle (not part of the on-disk
	// name) that forward jobs can log against.
	ID uuid.UUID
}

// Store is the transfer store. Mutable operations (commit, retention
// delete) are serialized by mu; bulk byte writes into a Sink do not take
// this lock (spec.md §5).
type Store struct {
	dir string
	mu  sync.Mutex
}

// New creates the store directory if missing and returns a ready Store.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// CreateSink opens a new WritableSink for a payload arriving from
// senderIP. Chunks appended via Sink.Write land in a temporary file
// invisible to ListArtifacts until Commit succeeds.
func (s *Store) CreateSink(senderIP net.IP) (*Sink, error) {
	f, err := os.CreateTemp(s.dir, "received_file_*.part")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return &Sink{
		store:    s,
		file:     f,
		senderIP: senderIP,
	}, nil
}

// ListArtifacts enumerates committed artifacts in the store directory,
// ordered by received_at ascending (ties broken lexicographically by
// filename, matching EnforceRetention's delete order).
func (s *Store) ListArtifacts() ([]Artifact, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	artifacts := make([]Artifact, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		a, ok := parseArtifactName(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		a.Path = filepath.Join(s.dir, e.Name())
		a.Size = info.Size()
		artifacts = append(artifacts, a)
	}

	sortArtifacts(artifacts)
	return artifacts, nil
}

// EnforceRetention deletes the oldest committed artifacts until at most
// maxCount remain. Delete errors are returned wrapped in ErrRetention but
// are never fatal to the caller (spec.md §4.2/§7).
func (s *Store) EnforceRetention(maxCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	artifacts, err := s.ListArtifacts()
	if err != nil {
		return fmt.Errorf("%w: list artifacts: %v", ErrRetention, err)
	}

	if len(artifacts) <= maxCount {
		return nil
	}

	toDelete := artifacts[:len(artifacts)-maxCount]
	var firstErr error
	for _, a := range toDelete {
		if err := os.Remove(a.Path); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: %v", ErrRetention, err)
		}
	}
	return firstErr
}

// sortArtifacts orders by received_at ascending, ties broken
// lexicographically by filename (spec.md §4.2, §8).
func sortArtifacts(artifacts []Artifact) {
	sort.Slice(artifacts, func(i, j int) bool {
		if !artifacts[i].ReceivedAt.Equal(artifacts[j].ReceivedAt) {
			return artifacts[i].ReceivedAt.Before(artifacts[j].ReceivedAt)
		}
		return filepath.Base(artifacts[i].Path) < filepath.Base(artifacts[j].Path)
	})
}

// parseArtifactName extracts the received_at timestamp and sender IP
// encoded in a committed artifact's filename.
func parseArtifactName(name string) (Artifact, bool) {
	m := filenameRe.FindStringSubmatch(name)
	if m == nil {
		return Artifact{}, false
	}

	ts, err := time.ParseInLocation(tsLayout, m[1], time.Local)
	if err != nil {
		return Artifact{}, false
	}

	ipStr := strings.ReplaceAll(m[3], "_", ".")
	ip := net.ParseIP(ipStr)

	return Artifact{SenderIP: ip, ReceivedAt: ts}, true
}

// buildFilename renders the spec.md §3 naming scheme, appending a
// monotonic "-N" suffix on same-second collisions (checked by the
// caller, which holds s.mu).
func buildFilename(receivedAt time.Time, senderIP net.IP, attempt int) string {
	ipPart := strings.ReplaceAll(senderIP.String(), ".", "_")
	if attempt == 0 {
		return filenamePrefix + receivedAt.Format(tsLayout) + "_" + ipPart + filenameSuffix
	}
	return filenamePrefix + receivedAt.Format(tsLayout) + "-" + strconv.Itoa(attempt) + "_" + ipPart + filenameSuffix
}
