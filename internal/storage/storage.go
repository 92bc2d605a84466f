// Package storage provides a thread-safe cache of aggregated daily records
// with file-based persistence. Reading and aggregating a large workbook is the
// slowest step of a run; the cache lets later runs skip it while the source
// file is unchanged.
//
// Entries are keyed by a fingerprint of the source file (path, size and
// modification time) and the district. Data is persisted to a JSON file with
// atomic writes and restored on the next start.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/casesim/internal/models"
)

// Version is the current persistence file format.
const Version = "1.0"

// ErrNotCached is returned by Get when no entry exists for a key.
var ErrNotCached = errors.New("not cached")

// Entry is one cached aggregation result.
type Entry struct {
	ID            string               `json:"id"`
	Key           string               `json:"key"`
	SourcePath    string               `json:"source_path"`
	SourceSize    int64                `json:"source_size"`
	SourceModTime time.Time            `json:"source_mod_time"`
	District      string               `json:"district"`
	Records       []models.DailyRecord `json:"records"`
	CachedAt      time.Time            `json:"cached_at"`
}

// Validate checks that all entry fields are valid
func (e *Entry) Validate() error {
	if e.Key == "" {
		return errors.New("entry key must not be empty")
	}
	if e.District == "" {
		return errors.New("entry district must not be empty")
	}
	if len(e.Records) == 0 {
		return errors.New("entry must hold at least one record")
	}
	for i := range e.Records {
		if err := e.Records[i].Validate(); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	return nil
}

// Storage provides thread-safe in-memory storage with file-based persistence
type Storage struct {
	entries map[string]*Entry
	mu      sync.RWMutex

	// Configuration
	maxEntries      int
	filePath        string
	filePermissions os.FileMode
	dirPermissions  os.FileMode
}

// PersistenceFile represents the file structure for JSON persistence
type PersistenceFile struct {
	Version string            `json:"version"`
	SavedAt time.Time         `json:"saved_at"`
	Entries map[string]*Entry `json:"entries"`
}

// New creates a new Storage instance.
// If filePath is empty, uses OS-appropriate tmp directory
func New(maxEntries int, filePath string, filePermissions, dirPermissions os.FileMode) *Storage {
	if filePath == "" {
		filePath = filepath.Join(os.TempDir(), "casesim", "series-cache.json")
	}
	if maxEntries <= 0 {
		maxEntries = 8
	}

	return &Storage{
		entries:         make(map[string]*Entry),
		maxEntries:      maxEntries,
		filePath:        filePath,
		filePermissions: filePermissions,
		dirPermissions:  dirPermissions,
	}
}

// FilePath returns the persistence file location.
func (s *Storage) FilePath() string {
	return s.filePath
}

// Fingerprint identifies the current state of the source file for a district.
// It changes whenever the file is rewritten.
func Fingerprint(path, district string) (string, os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to stat source: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	h := sha256.New()
	h.Write([]byte(abs))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(info.Size(), 10)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(info.ModTime().UnixNano(), 10)))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToUpper(strings.TrimSpace(district))))
	return hex.EncodeToString(h.Sum(nil)), info, nil
}

// NewEntry builds an entry for records aggregated from path.
func NewEntry(path, district string, records []models.DailyRecord) (*Entry, error) {
	key, info, err := Fingerprint(path, district)
	if err != nil {
		return nil, err
	}
	return &Entry{
		ID:            uuid.New().String(),
		Key:           key,
		SourcePath:    path,
		SourceSize:    info.Size(),
		SourceModTime: info.ModTime(),
		District:      district,
		Records:       records,
		CachedAt:      time.Now(),
	}, nil
}

// Put adds or replaces the entry for entry.Key
func (s *Storage) Put(entry *Entry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[entry.Key] = entry
	return nil
}

// Get retrieves the entry for key
func (s *Storage) Get(key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.entries[key]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotCached, key)
	}
	return entry, nil
}

// Lookup returns the cached records for the current state of path, if any.
func (s *Storage) Lookup(path, district string) ([]models.DailyRecord, bool) {
	key, _, err := Fingerprint(path, district)
	if err != nil {
		return nil, false
	}
	entry, err := s.Get(key)
	if err != nil {
		return nil, false
	}
	return entry.Records, true
}

// Len returns the number of cached entries.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Rotate removes the oldest entries exceeding the max limit
func (s *Storage) Rotate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) <= s.maxEntries {
		return
	}

	list := make([]*Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		list = append(list, entry)
	}

	// Oldest first
	sort.Slice(list, func(i, j int) bool {
		return list[i].CachedAt.Before(list[j].CachedAt)
	})

	toRemove := len(s.entries) - s.maxEntries
	for i := 0; i < toRemove; i++ {
		delete(s.entries, list[i].Key)
	}
}

// Save persists storage state to file
func (s *Storage) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, s.dirPermissions); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data := PersistenceFile{
		Version: Version,
		SavedAt: time.Now(),
		Entries: s.entries,
	}

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	// Write to temporary file first (atomic write)
	tempPath := s.filePath + ".tmp"
	if err := os.WriteFile(tempPath, jsonData, s.filePermissions); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	if err := os.Rename(tempPath, s.filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

// Load restores storage state from file. A missing file leaves the cache empty.
func (s *Storage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Clean up any stale temp files from previous crashes
	tempPath := s.filePath + ".tmp"
	if _, err := os.Stat(tempPath); err == nil {
		_ = os.Remove(tempPath)
	}

	if _, err := os.Stat(s.filePath); os.IsNotExist(err) {
		return nil
	}

	jsonData, err := os.ReadFile(s.filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var data PersistenceFile
	if err := json.Unmarshal(jsonData, &data); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}

	if data.Version != Version {
		// Unknown layout, start fresh
		s.entries = make(map[string]*Entry)
		return nil
	}

	s.entries = data.Entries
	if s.entries == nil {
		s.entries = make(map[string]*Entry)
	}

	return nil
}
