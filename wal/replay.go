package wal

import (
	"bufio"
	"fmt"
	"io"

	"github.com/hupe1980/idtrack/model"
)

// ReplayCommitted replays only committed operations.
//
// With the prepare/commit protocol (OpPrepare* + OpCommit*), only operations
// that have a matching commit are applied. The callback receives logical
// entries (OpCreate, OpAppend, OpIncrement, OpClear).
func (w *WAL) ReplayCommitted(callback func(entry Entry) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Seek to the start of the entry stream
	if _, err := w.file.Seek(w.dataOffset, 0); err != nil {
		return err
	}

	var reader io.Reader
	if w.compressed {
		if err := w.decompressor.Reset(w.file); err != nil {
			return fmt.Errorf("failed to reset decompressor: %w", err)
		}
		reader = w.decompressor
	} else {
		reader = bufio.NewReader(w.file)
	}

	pendingCreate := map[model.IdentityID]Entry{}
	pendingAppend := map[model.IdentityID]Entry{}
	pendingIncrement := map[model.IdentityID]struct{}{}
	pendingClear := false

	for {
		var entry Entry
		if err := w.decodeEntry(reader, &entry); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("WAL corrupted at entry: %w", err)
		}

		if entry.Type == OpCheckpoint {
			break
		}

		switch entry.Type {
		case OpPrepareCreate:
			pendingCreate[entry.Identity] = entry
		case OpPrepareAppend:
			pendingAppend[entry.Identity] = entry
		case OpPrepareIncrement:
			pendingIncrement[entry.Identity] = struct{}{}
		case OpPrepareClear:
			pendingClear = true
		case OpCommitCreate:
			if prepared, ok := pendingCreate[entry.Identity]; ok {
				prepared.Type = OpCreate
				prepared.SeqNum = entry.SeqNum
				if err := callback(prepared); err != nil {
					return fmt.Errorf("failed to replay entry %d: %w", entry.SeqNum, err)
				}
				delete(pendingCreate, entry.Identity)
			}
		case OpCommitAppend:
			if prepared, ok := pendingAppend[entry.Identity]; ok {
				prepared.Type = OpAppend
				prepared.SeqNum = entry.SeqNum
				if err := callback(prepared); err != nil {
					return fmt.Errorf("failed to replay entry %d: %w", entry.SeqNum, err)
				}
				delete(pendingAppend, entry.Identity)
			}
		case OpCommitIncrement:
			if _, ok := pendingIncrement[entry.Identity]; ok {
				applied := Entry{Type: OpIncrement, Identity: entry.Identity, SeqNum: entry.SeqNum}
				if err := callback(applied); err != nil {
					return fmt.Errorf("failed to replay entry %d: %w", entry.SeqNum, err)
				}
				delete(pendingIncrement, entry.Identity)
			}
		case OpCommitClear:
			if pendingClear {
				applied := Entry{Type: OpClear, SeqNum: entry.SeqNum}
				if err := callback(applied); err != nil {
					return fmt.Errorf("failed to replay entry %d: %w", entry.SeqNum, err)
				}
				pendingClear = false
			}
		default:
			// Ignore unknown types during committed replay
		}
	}

	// Seek back to end for appending
	if _, err := w.file.Seek(0, 2); err != nil {
		return err
	}

	return nil
}

// Replay replays all on-disk entries in the WAL by calling the provided callback.
// Most callers want ReplayCommitted; Replay exposes the raw prepare/commit stream.
func (w *WAL) Replay(callback func(entry Entry) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Seek to the start of the entry stream
	if _, err := w.file.Seek(w.dataOffset, 0); err != nil {
		return err
	}

	var reader io.Reader
	if w.compressed {
		if err := w.decompressor.Reset(w.file); err != nil {
			return fmt.Errorf("failed to reset decompressor: %w", err)
		}
		reader = w.decompressor
	} else {
		reader = bufio.NewReader(w.file)
	}

	for {
		var entry Entry
		if err := w.decodeEntry(reader, &entry); err != nil {
			if err == io.EOF {
				break
			}
			// Corrupted entry - stop replay
			return fmt.Errorf("WAL corrupted at entry: %w", err)
		}

		// Stop at checkpoint
		if entry.Type == OpCheckpoint {
			break
		}

		// Apply operation
		if err := callback(entry); err != nil {
			return fmt.Errorf("failed to replay entry %d: %w", entry.SeqNum, err)
		}
	}

	// Seek back to end for appending
	if _, err := w.file.Seek(0, 2); err != nil {
		return err
	}

	return nil
}
