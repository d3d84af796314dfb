package wal

import (
	"encoding/binary"
	"fmt"
	"io"
	"unsafe"

	"github.com/hupe1980/idtrack/model"
)

// isLogicalType reports whether the type is a logical operation emitted by
// ReplayCommitted rather than an on-disk entry type.
func isLogicalType(t OperationType) bool {
	return t == OpCreate || t == OpAppend || t == OpIncrement || t == OpClear
}

// carriesVector reports whether the entry type carries an embedding payload.
func carriesVector(t OperationType) bool {
	return t == OpPrepareCreate || t == OpPrepareAppend
}

// encodeEntry writes an entry in binary format.
// Format: [Type:1][SeqNum:8][Identity:8][VectorLen:4][Vector:N*4]
// The vector section is only present for prepare-create and prepare-append.
func (w *WAL) encodeEntry(entry *Entry) error {
	if isLogicalType(entry.Type) {
		return fmt.Errorf("unsupported on-disk WAL entry type: %v", entry.Type)
	}

	// Write operation type (1 byte)
	if err := binary.Write(w.writer, binary.LittleEndian, entry.Type); err != nil {
		return err
	}

	// Write sequence number (8 bytes)
	if err := binary.Write(w.writer, binary.LittleEndian, entry.SeqNum); err != nil {
		return err
	}

	// Write identity id (8 bytes)
	if err := binary.Write(w.writer, binary.LittleEndian, uint64(entry.Identity)); err != nil {
		return err
	}

	if carriesVector(entry.Type) {
		// Vector length (4 bytes)
		vectorLen := uint32(len(entry.Vector)) //nolint:gosec
		if err := binary.Write(w.writer, binary.LittleEndian, vectorLen); err != nil {
			return err
		}

		// Vector data (N * 4 bytes) - zero-copy write
		if vectorLen > 0 {
			byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&entry.Vector[0])), vectorLen*4) //nolint:gosec // unsafe is required for performance
			if _, err := w.writer.Write(byteSlice); err != nil {
				return err
			}
		}
	}

	return nil
}

// decodeEntry reads an entry in binary format.
func (w *WAL) decodeEntry(reader io.Reader, entry *Entry) error {
	// Read operation type (1 byte)
	if err := binary.Read(reader, binary.LittleEndian, &entry.Type); err != nil {
		return err
	}
	if isLogicalType(entry.Type) {
		return fmt.Errorf("unexpected logical WAL entry type on disk: %v", entry.Type)
	}

	// Read sequence number (8 bytes)
	if err := binary.Read(reader, binary.LittleEndian, &entry.SeqNum); err != nil {
		return err
	}

	// Read identity id (8 bytes)
	var identity uint64
	if err := binary.Read(reader, binary.LittleEndian, &identity); err != nil {
		return err
	}
	entry.Identity = model.IdentityID(identity)

	if carriesVector(entry.Type) {
		// Vector length
		var vectorLen uint32
		if err := binary.Read(reader, binary.LittleEndian, &vectorLen); err != nil {
			return err
		}

		// Vector data
		if vectorLen > 0 {
			entry.Vector = make([]float32, vectorLen)
			byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&entry.Vector[0])), vectorLen*4) //nolint:gosec // unsafe is required for performance
			if _, err := io.ReadFull(reader, byteSlice); err != nil {
				return err
			}
		}
	}

	return nil
}

func (w *WAL) flushLocked() error {
	if err := w.bufWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	if w.compressed {
		if err := w.compressor.Flush(); err != nil {
			return fmt.Errorf("failed to flush compressor: %w", err)
		}
	}
	return nil
}

func (w *WAL) syncCommitLocked() error {
	// Commit is an explicit durability boundary; whether it fsyncs depends on the durability mode.
	return w.syncIfNeeded()
}
