// Package artifact persists per-submission files (source code, per-test
// outputs, the running status log) in object storage, partitioned by
// submission ID so no two submissions ever share a path.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"judgeflow/internal/common/storage"
)

const (
	statusFileName = "testcasesStatus.txt"
	codeFilePrefix = "code"
)

// Store reads and writes submission artifacts.
type Store struct {
	storage storage.ObjectStorage
	bucket  string
}

// NewStore creates an artifact store over the given bucket.
func NewStore(objectStorage storage.ObjectStorage, bucket string) (*Store, error) {
	if objectStorage == nil {
		return nil, fmt.Errorf("object storage is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	return &Store{storage: objectStorage, bucket: bucket}, nil
}

func submissionPrefix(submissionID string) string {
	return "submissions/" + submissionID + "/"
}

func codeKey(submissionID, extension string) string {
	return submissionPrefix(submissionID) + codeFilePrefix + extension
}

func outputKey(submissionID string, seq int) string {
	return fmt.Sprintf("%soutput_%d.txt", submissionPrefix(submissionID), seq)
}

func statusKey(submissionID string) string {
	return submissionPrefix(submissionID) + statusFileName
}

// SaveCode stores the submitted source as code.<ext> and returns its key.
func (s *Store) SaveCode(ctx context.Context, submissionID, extension string, code []byte) (string, error) {
	if submissionID == "" {
		return "", fmt.Errorf("submissionID is required")
	}
	key := codeKey(submissionID, extension)
	if err := s.put(ctx, key, code); err != nil {
		return "", err
	}
	return key, nil
}

// GetCode fetches the submitted source bytes.
func (s *Store) GetCode(ctx context.Context, submissionID, extension string) ([]byte, error) {
	return s.readAll(ctx, codeKey(submissionID, extension))
}

// SaveTestOutput stores the program's stdout for one test case.
func (s *Store) SaveTestOutput(ctx context.Context, submissionID string, seq int, output string) error {
	if seq <= 0 {
		return fmt.Errorf("sequence number must be positive")
	}
	return s.put(ctx, outputKey(submissionID, seq), []byte(output))
}

// GetTestOutput fetches the stored stdout for one test case.
func (s *Store) GetTestOutput(ctx context.Context, submissionID string, seq int) (string, error) {
	data, err := s.readAll(ctx, outputKey(submissionID, seq))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// AppendStatusLine appends one entry to the status log. Only the single
// worker grading this submission ever writes the object, so the
// read-modify-write cycle needs no coordination.
func (s *Store) AppendStatusLine(ctx context.Context, submissionID, line string) error {
	var existing []byte
	if s.exists(ctx, statusKey(submissionID)) {
		data, err := s.readAll(ctx, statusKey(submissionID))
		if err != nil {
			return err
		}
		existing = data
	}
	var buf bytes.Buffer
	buf.Write(existing)
	buf.WriteString(line)
	buf.WriteString("\n\n")
	return s.put(ctx, statusKey(submissionID), buf.Bytes())
}

// GetStatusLog returns the raw status artifact, or "" when grading has not
// produced one yet.
func (s *Store) GetStatusLog(ctx context.Context, submissionID string) (string, error) {
	if !s.exists(ctx, statusKey(submissionID)) {
		return "", nil
	}
	data, err := s.readAll(ctx, statusKey(submissionID))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// RemoveAll deletes every artifact under the submission's prefix.
func (s *Store) RemoveAll(ctx context.Context, submissionID string) error {
	if submissionID == "" {
		return fmt.Errorf("submissionID is required")
	}
	var keys []string
	for obj := range s.storage.ListObjects(ctx, s.bucket, submissionPrefix(submissionID)) {
		if obj.Err != nil {
			return obj.Err
		}
		keys = append(keys, obj.Key)
	}
	return s.storage.RemoveObjects(ctx, s.bucket, keys)
}

func (s *Store) put(ctx context.Context, key string, data []byte) error {
	reader := io.NopCloser(bytes.NewReader(data))
	return s.storage.PutObject(ctx, s.bucket, key, reader, int64(len(data)), "text/plain")
}

func (s *Store) readAll(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.storage.GetObject(ctx, s.bucket, key)
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

func (s *Store) exists(ctx context.Context, key string) bool {
	_, err := s.storage.StatObject(ctx, s.bucket, key)
	return err == nil
}

// StatusEntry is one parsed entry of the status log.
type StatusEntry struct {
	// Seq is 0 for the compilation-error entry.
	Seq     int
	Outcome string
	Detail  string
}

// ParseStatusEntries splits the status artifact into per-test entries.
// Entries start at "Test Case <n>: <outcome>" lines; everything until the
// next entry header is that entry's detail.
func ParseStatusEntries(log string) []StatusEntry {
	lines := strings.Split(log, "\n")
	var entries []StatusEntry
	var current *StatusEntry
	var detail []string

	flush := func() {
		if current == nil {
			return
		}
		current.Detail = strings.TrimSpace(strings.Join(detail, "\n"))
		entries = append(entries, *current)
		current = nil
		detail = nil
	}

	for _, line := range lines {
		if seq, outcome, ok := parseEntryHeader(line); ok {
			flush()
			current = &StatusEntry{Seq: seq, Outcome: outcome}
			continue
		}
		if strings.HasPrefix(line, "Compilation Error:") {
			flush()
			current = &StatusEntry{Seq: 0, Outcome: "COMPILATION_ERROR"}
			continue
		}
		if current != nil {
			detail = append(detail, line)
		}
	}
	flush()
	return entries
}

func parseEntryHeader(line string) (int, string, bool) {
	const prefix = "Test Case "
	if !strings.HasPrefix(line, prefix) {
		return 0, "", false
	}
	rest := line[len(prefix):]
	colon := strings.Index(rest, ": ")
	if colon < 0 {
		return 0, "", false
	}
	seq, err := strconv.Atoi(rest[:colon])
	if err != nil || seq <= 0 {
		return 0, "", false
	}
	return seq, strings.TrimSpace(rest[colon+2:]), true
}
