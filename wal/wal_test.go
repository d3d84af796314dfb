package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/idtrack/model"
)

func TestWAL(t *testing.T) {
	dir := t.TempDir()

	wal, err := New(func(o *Options) {
		o.Path = dir
	})
	if err != nil {
		t.Fatalf("Failed to create WAL: %v", err)
	}
	defer wal.Close()

	err = wal.LogCreate(1, []float32{1.0, 2.0, 3.0})
	if err != nil {
		t.Fatalf("LogCreate failed: %v", err)
	}

	err = wal.LogAppend(1, []float32{1.1, 2.1, 3.1})
	if err != nil {
		t.Fatalf("LogAppend failed: %v", err)
	}

	err = wal.LogIncrement(1)
	if err != nil {
		t.Fatalf("LogIncrement failed: %v", err)
	}

	// Verify entries
	count, err := wal.Len()
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	// Each operation is written as Prepare+Commit.
	if count != 6 {
		t.Errorf("Expected 6 entries, got %d", count)
	}
}

func TestWALReplay(t *testing.T) {
	dir := t.TempDir()

	wal, err := New(func(o *Options) {
		o.Path = dir
	})
	if err != nil {
		t.Fatalf("Failed to create WAL: %v", err)
	}

	operations := []struct {
		id     uint64
		vector []float32
	}{
		{1, []float32{1.0, 0.0, 0.0}},
		{2, []float32{0.0, 1.0, 0.0}},
		{3, []float32{0.0, 0.0, 1.0}},
	}

	for _, op := range operations {
		err := wal.LogCreate(model.IdentityID(op.id), op.vector)
		if err != nil {
			t.Fatalf("LogCreate failed: %v", err)
		}
	}

	wal.Close()

	// Reopen and replay
	wal, err = New(func(o *Options) {
		o.Path = dir
	})
	if err != nil {
		t.Fatalf("Failed to reopen WAL: %v", err)
	}
	defer wal.Close()

	replayed := []Entry{}
	err = wal.ReplayCommitted(func(entry Entry) error {
		replayed = append(replayed, entry)
		return nil
	})
	if err != nil {
		t.Fatalf("ReplayCommitted failed: %v", err)
	}

	if len(replayed) != 3 {
		t.Errorf("Expected 3 replayed entries, got %d", len(replayed))
	}

	for i, entry := range replayed {
		if uint64(entry.Identity) != operations[i].id {
			t.Errorf("Entry %d: expected identity %d, got %d", i, operations[i].id, entry.Identity)
		}
		if entry.Type != OpCreate {
			t.Errorf("Entry %d: expected OpCreate, got %v", i, entry.Type)
		}
	}
}

func TestWALReplayCommittedIgnoresUncommittedPrepares(t *testing.T) {
	dir := t.TempDir()

	w, err := New(func(o *Options) {
		o.Path = dir
	})
	if err != nil {
		t.Fatalf("Failed to create WAL: %v", err)
	}

	// Prepare without commit (should be ignored).
	if err := w.LogPrepareCreate(1, []float32{1, 0, 0}); err != nil {
		t.Fatalf("LogPrepareCreate failed: %v", err)
	}

	// Prepare + commit (should be applied).
	if err := w.LogPrepareCreate(2, []float32{0, 1, 0}); err != nil {
		t.Fatalf("LogPrepareCreate failed: %v", err)
	}
	if err := w.LogCommitCreate(2); err != nil {
		t.Fatalf("LogCommitCreate failed: %v", err)
	}

	_ = w.Close()

	// Reopen and replay committed
	w, err = New(func(o *Options) {
		o.Path = dir
	})
	if err != nil {
		t.Fatalf("Failed to reopen WAL: %v", err)
	}
	defer w.Close()

	var replayed []Entry
	err = w.ReplayCommitted(func(entry Entry) error {
		replayed = append(replayed, entry)
		return nil
	})
	if err != nil {
		t.Fatalf("ReplayCommitted failed: %v", err)
	}

	if len(replayed) != 1 {
		t.Fatalf("Expected 1 committed entry, got %d", len(replayed))
	}
	if replayed[0].Type != OpCreate {
		t.Fatalf("Expected OpCreate, got %v", replayed[0].Type)
	}
	if replayed[0].Identity != 2 {
		t.Fatalf("Expected identity=2, got %d", replayed[0].Identity)
	}
}

func TestWALReplayClear(t *testing.T) {
	dir := t.TempDir()

	w, err := New(func(o *Options) {
		o.Path = dir
	})
	if err != nil {
		t.Fatalf("Failed to create WAL: %v", err)
	}
	defer w.Close()

	if err := w.LogCreate(1, []float32{1, 0}); err != nil {
		t.Fatalf("LogCreate failed: %v", err)
	}
	if err := w.LogClear(); err != nil {
		t.Fatalf("LogClear failed: %v", err)
	}
	if err := w.LogCreate(2, []float32{0, 1}); err != nil {
		t.Fatalf("LogCreate failed: %v", err)
	}

	var types []OperationType
	err = w.ReplayCommitted(func(entry Entry) error {
		types = append(types, entry.Type)
		return nil
	})
	if err != nil {
		t.Fatalf("ReplayCommitted failed: %v", err)
	}

	want := []OperationType{OpCreate, OpClear, OpCreate}
	if len(types) != len(want) {
		t.Fatalf("Expected %d entries, got %d", len(want), len(types))
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("Entry %d: expected %v, got %v", i, want[i], types[i])
		}
	}
}

func TestWALCheckpoint(t *testing.T) {
	dir := t.TempDir()

	wal, err := New(func(o *Options) {
		o.Path = dir
	})
	if err != nil {
		t.Fatalf("Failed to create WAL: %v", err)
	}
	defer wal.Close()

	// Write some entries
	for i := uint64(1); i <= 5; i++ {
		err := wal.LogCreate(model.IdentityID(i), []float32{float32(i)})
		if err != nil {
			t.Fatalf("LogCreate failed: %v", err)
		}
	}

	count, _ := wal.Len()
	// Each create is written as Prepare+Commit.
	if count != 10 {
		t.Errorf("Expected 10 entries before checkpoint, got %d", count)
	}

	// Checkpoint
	err = wal.Checkpoint()
	if err != nil {
		t.Fatalf("Checkpoint failed: %v", err)
	}

	// Verify WAL is empty after checkpoint
	count, _ = wal.Len()
	if count != 0 {
		t.Errorf("Expected 0 entries after checkpoint, got %d", count)
	}

	// Add new entry after checkpoint
	err = wal.LogCreate(6, []float32{6.0})
	if err != nil {
		t.Fatalf("LogCreate after checkpoint failed: %v", err)
	}

	count, _ = wal.Len()
	if count != 2 {
		t.Errorf("Expected 2 entries after checkpoint, got %d", count)
	}
}

func TestWALCorruptedFile(t *testing.T) {
	dir := t.TempDir()
	walPath := filepath.Join(dir, "idtrack.wal")

	// Create a valid WAL first
	wal, err := New(func(o *Options) {
		o.Path = dir
	})
	if err != nil {
		t.Fatalf("Failed to create WAL: %v", err)
	}

	err = wal.LogCreate(1, []float32{1.0})
	if err != nil {
		t.Fatalf("LogCreate failed: %v", err)
	}
	wal.Close()

	// Truncate file to corrupt it (remove last bytes)
	f, err := os.OpenFile(walPath, os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}
	stat, _ := f.Stat()
	f.Truncate(stat.Size() - 10)
	f.Close()

	// Try to replay - should stop at corruption
	wal, err = New(func(o *Options) {
		o.Path = dir
	})
	if err != nil {
		t.Fatalf("Failed to reopen WAL: %v", err)
	}
	defer wal.Close()

	replayed := 0
	_ = wal.Replay(func(entry Entry) error {
		replayed++
		return nil
	})

	// Binary format will fail to read the incomplete entry
	if replayed != 0 {
		t.Logf("Warning: Replayed %d entries (expected 0 due to truncation)", replayed)
	}
}

func TestWALSequenceNumbers(t *testing.T) {
	dir := t.TempDir()

	wal, err := New(func(o *Options) {
		o.Path = dir
	})
	if err != nil {
		t.Fatalf("Failed to create WAL: %v", err)
	}
	defer wal.Close()

	// Write entries and verify sequence numbers increase
	for i := uint64(1); i <= 3; i++ {
		err := wal.LogCreate(model.IdentityID(i), []float32{float32(i)})
		if err != nil {
			t.Fatalf("LogCreate failed: %v", err)
		}
	}

	// Replay committed and verify sequence numbers
	replayed := []uint64{}
	err = wal.ReplayCommitted(func(entry Entry) error {
		replayed = append(replayed, entry.SeqNum)
		return nil
	})
	if err != nil {
		t.Fatalf("ReplayCommitted failed: %v", err)
	}

	if len(replayed) != 3 {
		t.Fatalf("Expected 3 committed ops, got %d", len(replayed))
	}

	// Each create produces a Prepare then a Commit; ReplayCommitted uses commit seq nums (2,4,6,...).
	for i, seqNum := range replayed {
		expected := uint64((i + 1) * 2)
		if seqNum != expected {
			t.Errorf("Entry %d: expected seq %d, got %d", i, expected, seqNum)
		}
	}
}

func TestWALBatchCreate(t *testing.T) {
	dir := t.TempDir()

	wal, err := New(func(o *Options) {
		o.Path = dir
	})
	if err != nil {
		t.Fatalf("Failed to create WAL: %v", err)
	}
	defer wal.Close()

	ids := []model.IdentityID{1, 2, 3}
	vectors := [][]float32{{1, 0}, {0, 1}, {1, 1}}

	if err := wal.LogBatchCreate(ids, vectors); err != nil {
		t.Fatalf("LogBatchCreate failed: %v", err)
	}

	replayed := 0
	err = wal.ReplayCommitted(func(entry Entry) error {
		if entry.Type != OpCreate {
			t.Errorf("Expected OpCreate, got %v", entry.Type)
		}
		replayed++
		return nil
	})
	if err != nil {
		t.Fatalf("ReplayCommitted failed: %v", err)
	}
	if replayed != 3 {
		t.Errorf("Expected 3 replayed creates, got %d", replayed)
	}
}

func TestWALCompression(t *testing.T) {
	dir := t.TempDir()

	// Create WAL with compression
	walCompressed, err := New(func(o *Options) {
		o.Path = filepath.Join(dir, "compressed")
		o.Compress = true
		o.CompressionLevel = 3
	})
	if err != nil {
		t.Fatalf("Failed to create compressed WAL: %v", err)
	}
	defer walCompressed.Close()

	// Create WAL without compression
	walUncompressed, err := New(func(o *Options) {
		o.Path = filepath.Join(dir, "uncompressed")
		o.Compress = false
	})
	if err != nil {
		t.Fatalf("Failed to create uncompressed WAL: %v", err)
	}
	defer walUncompressed.Close()

	// Log the same data to both
	const numEntries = 100
	for i := 0; i < numEntries; i++ {
		vector := make([]float32, 128)
		for j := range vector {
			vector[j] = float32(i + j)
		}

		err := walCompressed.LogCreate(model.IdentityID(i+1), vector)
		if err != nil {
			t.Fatalf("Compressed LogCreate failed: %v", err)
		}

		err = walUncompressed.LogCreate(model.IdentityID(i+1), vector)
		if err != nil {
			t.Fatalf("Uncompressed LogCreate failed: %v", err)
		}
	}

	// Close to flush
	walCompressed.Close()
	walUncompressed.Close()

	// Compare file sizes
	compressedInfo, err := os.Stat(filepath.Join(dir, "compressed", "idtrack.wal"))
	if err != nil {
		t.Fatalf("Failed to stat compressed WAL: %v", err)
	}

	uncompressedInfo, err := os.Stat(filepath.Join(dir, "uncompressed", "idtrack.wal"))
	if err != nil {
		t.Fatalf("Failed to stat uncompressed WAL: %v", err)
	}

	compressionRatio := float64(uncompressedInfo.Size()) / float64(compressedInfo.Size())

	t.Logf("Compressed size:   %d bytes", compressedInfo.Size())
	t.Logf("Uncompressed size: %d bytes", uncompressedInfo.Size())
	t.Logf("Compression ratio: %.2fx", compressionRatio)

	// Verify compression is effective (should be at least 1.5x)
	if compressionRatio < 1.5 {
		t.Errorf("Compression ratio too low: %.2fx (expected >= 1.5x)", compressionRatio)
	}

	// Test replay with compression
	walCompressed2, err := New(func(o *Options) {
		o.Path = filepath.Join(dir, "compressed")
		o.Compress = true
	})
	if err != nil {
		t.Fatalf("Failed to reopen compressed WAL: %v", err)
	}
	defer walCompressed2.Close()

	entriesReplayed := 0
	err = walCompressed2.ReplayCommitted(func(entry Entry) error {
		entriesReplayed++
		return nil
	})
	if err != nil {
		t.Fatalf("ReplayCommitted failed: %v", err)
	}

	if entriesReplayed != numEntries {
		t.Errorf("Replayed %d entries, expected %d", entriesReplayed, numEntries)
	}
}
