package sqlite

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tutu-network/mtran/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testRecord(id, from, to, fileType, version string) domain.ModelRecord {
	return domain.ModelRecord{
		ID:             id,
		Name:           fileType + "." + from + to + ".bin",
		Version:        version,
		FileType:       fileType,
		SourceLanguage: from,
		TargetLanguage: to,
		Attachment: domain.Attachment{
			Filename: fileType + "." + from + to + ".bin.zst",
			Location: "main/" + id + ".zst",
			Size:     1234,
		},
		DecompressedHash: "abc",
		DecompressedSize: 5678,
	}
}

// ─── Database Lifecycle ─────────────────────────────────────────────────────

func TestOpen_CreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Join(dir, "state.db")); os.IsNotExist(err) {
		t.Error("state.db should exist")
	}
}

func TestOpen_Reopen(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.SetNodeInfo("k", "v"); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer db.Close()
	if got, _ := db.GetNodeInfo("k"); got != "v" {
		t.Errorf("value after reopen = %q", got)
	}
}

func TestOpen_Ping(t *testing.T) {
	db := newTestDB(t)
	if err := db.Ping(); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
}

// ─── Records ────────────────────────────────────────────────────────────────

func TestReplaceRecords(t *testing.T) {
	db := newTestDB(t)

	first := []domain.ModelRecord{
		testRecord("1", "en", "de", "model", "1.0"),
		testRecord("2", "en", "de", "lex", "1.0"),
	}
	if err := db.ReplaceRecords(first); err != nil {
		t.Fatalf("ReplaceRecords() error: %v", err)
	}
	if n, _ := db.CountRecords(); n != 2 {
		t.Errorf("CountRecords() = %d, want 2", n)
	}

	second := []domain.ModelRecord{testRecord("3", "fr", "en", "model", "2.1")}
	if err := db.ReplaceRecords(second); err != nil {
		t.Fatalf("second ReplaceRecords() error: %v", err)
	}

	got, err := db.ListRecords()
	if err != nil {
		t.Fatalf("ListRecords() error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(got))
	}
	r := got[0]
	if r.ID != "3" || r.Pair() != (domain.PairKey{From: "fr", To: "en"}) || r.Version != "2.1" {
		t.Errorf("record = %+v", r)
	}
	if r.Attachment.Location != "main/3.zst" || r.DecompressedSize != 5678 {
		t.Errorf("attachment fields lost: %+v", r)
	}
}

func TestListRecords_Empty(t *testing.T) {
	db := newTestDB(t)
	got, err := db.ListRecords()
	if err != nil {
		t.Fatalf("ListRecords() error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len(records) = %d, want 0", len(got))
	}
}

// ─── Model Files ────────────────────────────────────────────────────────────

func TestUpsertModelFile(t *testing.T) {
	db := newTestDB(t)

	f := domain.InstalledFile{
		Path:        "/models/en_de/model.ende.bin",
		From:        "en",
		To:          "de",
		FileType:    "model",
		Version:     "1.0",
		SHA256:      "old",
		SizeBytes:   100,
		InstalledAt: time.Now(),
	}
	if err := db.UpsertModelFile(f); err != nil {
		t.Fatalf("UpsertModelFile() error: %v", err)
	}

	f.SHA256 = "new"
	f.Version = "1.1"
	if err := db.UpsertModelFile(f); err != nil {
		t.Fatalf("second UpsertModelFile() error: %v", err)
	}

	got, err := db.GetModelFile(f.Path)
	if err != nil {
		t.Fatalf("GetModelFile() error: %v", err)
	}
	if got == nil {
		t.Fatal("GetModelFile() returned nil")
	}
	if got.SHA256 != "new" || got.Version != "1.1" {
		t.Errorf("file = %+v, want updated hash and version", got)
	}
}

func TestGetModelFile_NotFound(t *testing.T) {
	db := newTestDB(t)
	got, err := db.GetModelFile("/nope")
	if err != nil {
		t.Fatalf("GetModelFile() error: %v", err)
	}
	if got != nil {
		t.Error("GetModelFile() should return nil for unknown path")
	}
}

func TestListAndDeleteModelFiles(t *testing.T) {
	db := newTestDB(t)
	for _, ft := range []string{"model", "lex", "vocab"} {
		if err := db.UpsertModelFile(domain.InstalledFile{
			Path: "/m/en_de/" + ft, From: "en", To: "de", FileType: ft,
			Version: "1", SHA256: ft, SizeBytes: 1, InstalledAt: time.Now(),
		}); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.UpsertModelFile(domain.InstalledFile{
		Path: "/m/fr_en/model", From: "fr", To: "en", FileType: "model",
		Version: "1", SHA256: "x", SizeBytes: 1, InstalledAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	files, err := db.ListModelFiles()
	if err != nil {
		t.Fatalf("ListModelFiles() error: %v", err)
	}
	if len(files) != 4 {
		t.Fatalf("len(files) = %d, want 4", len(files))
	}
	if files[0].From != "en" || files[0].FileType != "lex" {
		t.Errorf("files not ordered by pair and type: %+v", files[0])
	}

	n, err := db.DeleteModelFiles("en", "de")
	if err != nil || n != 3 {
		t.Errorf("DeleteModelFiles() = %d, %v; want 3", n, err)
	}
	if _, err := db.DeleteModelFiles("en", "de"); !errors.Is(err, domain.ErrModelNotFound) {
		t.Errorf("second delete error = %v, want ErrModelNotFound", err)
	}
}

// ─── Node Info ──────────────────────────────────────────────────────────────

func TestNodeInfo_Upsert(t *testing.T) {
	db := newTestDB(t)

	if err := db.SetNodeInfo("records_fetched_at", "v1"); err != nil {
		t.Fatalf("first SetNodeInfo() error: %v", err)
	}
	if err := db.SetNodeInfo("records_fetched_at", "v2"); err != nil {
		t.Fatalf("second SetNodeInfo() error: %v", err)
	}

	got, err := db.GetNodeInfo("records_fetched_at")
	if err != nil {
		t.Fatalf("GetNodeInfo() error: %v", err)
	}
	if got != "v2" {
		t.Errorf("GetNodeInfo() = %q, want %q", got, "v2")
	}
}

func TestNodeInfo_NotFound(t *testing.T) {
	db := newTestDB(t)

	got, err := db.GetNodeInfo("missing")
	if err != nil {
		t.Fatalf("GetNodeInfo() error: %v", err)
	}
	if got != "" {
		t.Errorf("GetNodeInfo(missing) = %q, want empty", got)
	}
}
