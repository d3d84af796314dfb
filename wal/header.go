package wal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// The log file starts with a fixed 16-byte header so a foreign or
// truncated file is detected before any entry is decoded:
//
//	[0:4]   magic "ITW0"
//	[4:6]   format version, little endian
//	[6]     flags (bit 0: zstd-compressed entry stream)
//	[7]     zstd level
//	[8:16]  reserved
const walHeaderLen = 16

var walMagic = []byte("ITW0")

const (
	walFormatVersion uint16 = 1
	walFlagZstd      byte   = 1 << 0
)

type walHeaderInfo struct {
	Compressed       bool
	CompressionLevel int
	HeaderLen        int64
}

func writeWALHeader(w io.Writer, info walHeaderInfo) (int64, error) {
	var hdr [walHeaderLen]byte
	copy(hdr[0:4], walMagic)
	binary.LittleEndian.PutUint16(hdr[4:6], walFormatVersion)
	if info.Compressed {
		hdr[6] |= walFlagZstd
		hdr[7] = byte(info.CompressionLevel)
	}

	if _, err := w.Write(hdr[:]); err != nil {
		return 0, fmt.Errorf("failed to write WAL header: %w", err)
	}
	return walHeaderLen, nil
}

// readWALHeader parses the file header. The bool result distinguishes a
// file too short to carry a header (false, nil) from a readable one.
func readWALHeader(f *os.File) (walHeaderInfo, bool, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return walHeaderInfo{}, false, fmt.Errorf("failed to seek WAL: %w", err)
	}

	var hdr [walHeaderLen]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return walHeaderInfo{}, false, nil
		}
		return walHeaderInfo{}, false, fmt.Errorf("failed to read WAL header: %w", err)
	}

	if !bytes.Equal(hdr[0:4], walMagic) {
		return walHeaderInfo{}, false, fmt.Errorf("unsupported WAL format: invalid header magic")
	}
	if v := binary.LittleEndian.Uint16(hdr[4:6]); v != walFormatVersion {
		return walHeaderInfo{}, true, fmt.Errorf("unsupported WAL header version: %d", v)
	}

	return walHeaderInfo{
		Compressed:       hdr[6]&walFlagZstd != 0,
		CompressionLevel: int(hdr[7]),
		HeaderLen:        walHeaderLen,
	}, true, nil
}
