package claim

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nhle/mail-triage/internal/atomicfile"
	"github.com/nhle/mail-triage/internal/model"
)

const (
	recordSuffix = ".claim.json"
	intentSuffix = ".intents"
	maxNameLen   = 48
)

// RecordStore is the shared medium holding claim records and intents.
// Implementations must make each write atomic for readers; no other
// guarantee (locking, compare-and-swap) is assumed.
type RecordStore interface {
	Read(ctx context.Context, key string) (model.ClaimRecord, bool, error)
	Write(ctx context.Context, rec model.ClaimRecord) error
	Remove(ctx context.Context, key string) error
	List(ctx context.Context) ([]model.ClaimRecord, error)

	WriteIntent(ctx context.Context, key string, intent model.ClaimIntent) error
	Intents(ctx context.Context, key string) ([]model.ClaimIntent, error)
	RemoveIntent(ctx context.Context, key, operator string) error
	ClearIntents(ctx context.Context, key string) error
}

// FileStore keeps claim records as JSON files in a shared directory:
//
//	<dir>/<name>.claim.json
//	<dir>/<name>.intents/<operator name>.json
//
// where each name is the sanitized key or operator plus a hash suffix, so
// distinct keys and operators never collide after sanitizing.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("claim store directory is empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create claim dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the shared directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Read returns the record for key; found is false when there is none.
func (s *FileStore) Read(ctx context.Context, key string) (model.ClaimRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.ClaimRecord{}, false, err
	}
	var rec model.ClaimRecord
	found, err := atomicfile.ReadJSON(s.recordPath(key), &rec)
	if err != nil {
		return model.ClaimRecord{}, false, err
	}
	return rec, found, nil
}

// Write replaces the record for rec.Key.
func (s *FileStore) Write(ctx context.Context, rec model.ClaimRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return atomicfile.WriteJSON(s.recordPath(rec.Key), rec)
}

// Remove deletes the record for key.
func (s *FileStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return atomicfile.Remove(s.recordPath(key))
}

// List returns every record in the directory, sorted by key. Records that
// disappear while listing are skipped.
func (s *FileStore) List(ctx context.Context) ([]model.ClaimRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+recordSuffix))
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}

	records := make([]model.ClaimRecord, 0, len(matches))
	for _, path := range matches {
		var rec model.ClaimRecord
		found, err := atomicfile.ReadJSON(path, &rec)
		if err != nil {
			return nil, err
		}
		if found {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

// WriteIntent records that intent.Operator is attempting to claim key.
func (s *FileStore) WriteIntent(ctx context.Context, key string, intent model.ClaimIntent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return atomicfile.WriteJSON(s.intentPath(key, intent.Operator), intent)
}

// Intents returns every intent for key.
func (s *FileStore) Intents(ctx context.Context, key string) ([]model.ClaimIntent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.intentDir(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read intents: %w", err)
	}

	var intents []model.ClaimIntent
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var intent model.ClaimIntent
		found, err := atomicfile.ReadJSON(filepath.Join(s.intentDir(key), e.Name()), &intent)
		if err != nil {
			return nil, err
		}
		if found {
			intents = append(intents, intent)
		}
	}
	return intents, nil
}

// RemoveIntent deletes operator's intent for key.
func (s *FileStore) RemoveIntent(ctx context.Context, key, operator string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return atomicfile.Remove(s.intentPath(key, operator))
}

// ClearIntents deletes every intent for key.
func (s *FileStore) ClearIntents(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.RemoveAll(s.intentDir(key)); err != nil {
		return fmt.Errorf("clear intents: %w", err)
	}
	return nil
}

func (s *FileStore) recordPath(key string) string {
	return filepath.Join(s.dir, fileName(key)+recordSuffix)
}

func (s *FileStore) intentDir(key string) string {
	return filepath.Join(s.dir, fileName(key)+intentSuffix)
}

func (s *FileStore) intentPath(key, operator string) string {
	return filepath.Join(s.intentDir(key), fileName(operator)+".json")
}

// fileName maps a claim key or operator name to a portable file name.
func fileName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return sanitize(key) + "-" + hex.EncodeToString(sum[:])[:12]
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() >= maxNameLen {
			break
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "_"
	}
	return out
}
