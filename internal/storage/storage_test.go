package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/casesim/internal/models"
)

func testRecords() []models.DailyRecord {
	return []models.DailyRecord{
		{
			Date:     time.Date(2020, 10, 1, 0, 0, 0, 0, time.UTC),
			District: "CEMPAKA PUTIH",
			Counts:   map[models.Variable]int{models.Suspected: 8, models.Positive: 3, models.Discarded: 2},
		},
		{
			Date:     time.Date(2020, 10, 2, 0, 0, 0, 0, time.UTC),
			District: "CEMPAKA PUTIH",
			Counts:   map[models.Variable]int{models.Suspected: 6, models.Positive: 1},
		},
	}
}

func writeSource(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "covid_dataset.csv")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestStorage_PutAndLookup(t *testing.T) {
	dir := t.TempDir()
	source := writeSource(t, dir, "tanggal,nama_kecamatan\n")
	s := New(4, filepath.Join(dir, "cache.json"), 0o644, 0o755)

	entry, err := NewEntry(source, "CEMPAKA PUTIH", testRecords())
	if err != nil {
		t.Fatalf("NewEntry failed: %v", err)
	}
	if entry.ID == "" {
		t.Error("Expected entry ID to be set")
	}
	if err := s.Put(entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	records, ok := s.Lookup(source, "cempaka putih")
	if !ok {
		t.Fatal("Expected cache hit for same source and district")
	}
	if len(records) != 2 || records[0].Counts[models.Suspected] != 8 {
		t.Errorf("Unexpected cached records: %+v", records)
	}

	if _, ok := s.Lookup(source, "GAMBIR"); ok {
		t.Error("Expected cache miss for another district")
	}
}

func TestStorage_LookupMissesAfterSourceChange(t *testing.T) {
	dir := t.TempDir()
	source := writeSource(t, dir, "tanggal,nama_kecamatan\n")
	s := New(4, filepath.Join(dir, "cache.json"), 0o644, 0o755)

	entry, err := NewEntry(source, "CEMPAKA PUTIH", testRecords())
	if err != nil {
		t.Fatalf("NewEntry failed: %v", err)
	}
	if err := s.Put(entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Rewrite with a different size and a later mtime
	writeSource(t, dir, "tanggal,nama_kecamatan,suspek\n")
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(source, later, later); err != nil {
		t.Fatal(err)
	}

	if _, ok := s.Lookup(source, "CEMPAKA PUTIH"); ok {
		t.Error("Expected cache miss after source changed")
	}
	if _, ok := s.Lookup(filepath.Join(dir, "missing.csv"), "CEMPAKA PUTIH"); ok {
		t.Error("Expected cache miss for missing source")
	}
}

func TestStorage_GetMissing(t *testing.T) {
	s := New(4, filepath.Join(t.TempDir(), "cache.json"), 0o644, 0o755)
	if _, err := s.Get("nope"); !errors.Is(err, ErrNotCached) {
		t.Errorf("Expected ErrNotCached, got %v", err)
	}
}

func TestStorage_PutRejectsInvalidEntry(t *testing.T) {
	s := New(4, filepath.Join(t.TempDir(), "cache.json"), 0o644, 0o755)

	tests := []struct {
		name  string
		entry *Entry
	}{
		{"empty key", &Entry{District: "X", Records: testRecords()}},
		{"empty district", &Entry{Key: "k", Records: testRecords()}},
		{"no records", &Entry{Key: "k", District: "X"}},
		{"invalid record", &Entry{Key: "k", District: "X", Records: []models.DailyRecord{{District: "X"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Put(tt.entry); err == nil {
				t.Error("Expected error for invalid entry")
			}
		})
	}
}

func TestStorage_Rotate(t *testing.T) {
	s := New(2, filepath.Join(t.TempDir(), "cache.json"), 0o644, 0o755)

	now := time.Now()
	for i, key := range []string{"a", "b", "c"} {
		entry := &Entry{
			Key:      key,
			District: "CEMPAKA PUTIH",
			Records:  testRecords(),
			CachedAt: now.Add(time.Duration(i) * time.Minute),
		}
		if err := s.Put(entry); err != nil {
			t.Fatalf("Put %s failed: %v", key, err)
		}
	}

	s.Rotate()

	if s.Len() != 2 {
		t.Errorf("Expected 2 entries after rotation, got %d", s.Len())
	}
	if _, err := s.Get("a"); err == nil {
		t.Error("Expected oldest entry to be removed")
	}
	if _, err := s.Get("c"); err != nil {
		t.Errorf("Expected newest entry to be kept: %v", err)
	}
}

func TestStorage_EmptyFilePathUsesTmpDir(t *testing.T) {
	s := New(4, "", 0o644, 0o755)

	expectedSuffix := filepath.Join("casesim", "series-cache.json")
	if !strings.HasSuffix(s.FilePath(), expectedSuffix) {
		t.Errorf("Expected file path to end with '%s', got '%s'", expectedSuffix, s.FilePath())
	}
}

func TestStorage_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	source := writeSource(t, dir, "tanggal,nama_kecamatan\n")
	cachePath := filepath.Join(dir, "nested", "cache.json")

	s := New(4, cachePath, 0o644, 0o755)
	entry, err := NewEntry(source, "CEMPAKA PUTIH", testRecords())
	if err != nil {
		t.Fatalf("NewEntry failed: %v", err)
	}
	if err := s.Put(entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(cachePath + ".tmp"); !os.IsNotExist(err) {
		t.Error("Expected temp file to be renamed away")
	}

	s2 := New(4, cachePath, 0o644, 0o755)
	if err := s2.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	records, ok := s2.Lookup(source, "CEMPAKA PUTIH")
	if !ok {
		t.Fatal("Expected cache hit after load")
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if _, ok := records[1].Count(models.Discarded); ok {
		t.Error("Expected missing discarded count to stay missing")
	}
	if !records[0].Date.Equal(time.Date(2020, 10, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected date after load: %v", records[0].Date)
	}
}

func TestStorage_LoadMissingAndStaleFiles(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "cache.json")

	s := New(4, cachePath, 0o644, 0o755)
	if err := s.Load(); err != nil {
		t.Fatalf("Load of missing file failed: %v", err)
	}

	stale := `{"version":"0.1","entries":{"k":{"key":"k"}}}`
	if err := os.WriteFile(cachePath, []byte(stale), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cachePath+".tmp", []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := s.Load(); err != nil {
		t.Fatalf("Load of stale file failed: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Expected stale version to be discarded, got %d entries", s.Len())
	}
	if _, err := os.Stat(cachePath + ".tmp"); !os.IsNotExist(err) {
		t.Error("Expected stale temp file to be removed")
	}

	if err := os.WriteFile(cachePath, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Load(); err == nil {
		t.Error("Expected error for corrupt file")
	}
}
