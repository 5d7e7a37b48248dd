// Package segment persists a snapshot of the in-memory index to a single
// file: a fixed-size binary header, a JSON body with one record per
// document, and a CRC32 footer over the body.
package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/content"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer/index"
)

// MagicBytes identifies a snapshot file ("LSIX").
const (
	MagicBytes    uint32 = 0x4c534958
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
	FooterSize    int    = 4
)

// Header is the 64-byte header written at the start of every snapshot.
type Header struct {
	Magic     uint32
	Version   uint32
	DocCount  uint32
	TermCount uint32
	CreatedAt int64
	BodySize  int64
}

// Record is the indexed state of one document. Postings are derived from
// Terms on restore.
type Record struct {
	DocID content.DocID    `json:"id"`
	Meta  index.DocMeta    `json:"m"`
	Terms index.TermVector `json:"t"`
}

// Write atomically replaces path with a snapshot of records. It writes to
// a .tmp file first and renames on success. termCount is recorded in the
// header for reporting only.
func Write(path string, records []Record, termCount int) (Header, error) {
	sort.Slice(records, func(i, j int) bool { return records[i].DocID < records[j].DocID })
	body, err := json.Marshal(records)
	if err != nil {
		return Header{}, fmt.Errorf("encoding snapshot: %w", err)
	}
	header := Header{
		Magic:     MagicBytes,
		Version:   FormatVersion,
		DocCount:  uint32(len(records)),
		TermCount: uint32(termCount),
		CreatedAt: time.Now().Unix(),
		BodySize:  int64(len(body)),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return Header{}, fmt.Errorf("creating snapshot directory: %w", err)
	}
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return Header{}, fmt.Errorf("creating temp snapshot file: %w", err)
	}
	defer os.Remove(tmpPath)

	headerBytes := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(headerBytes[0:4], header.Magic)
	binary.LittleEndian.PutUint32(headerBytes[4:8], header.Version)
	binary.LittleEndian.PutUint32(headerBytes[8:12], header.DocCount)
	binary.LittleEndian.PutUint32(headerBytes[12:16], header.TermCount)
	binary.LittleEndian.PutUint64(headerBytes[16:24], uint64(header.CreatedAt))
	binary.LittleEndian.PutUint64(headerBytes[24:32], uint64(header.BodySize))

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer, crc32.ChecksumIEEE(body))

	for _, chunk := range [][]byte{headerBytes, body, footer} {
		if _, err := f.Write(chunk); err != nil {
			f.Close()
			return Header{}, fmt.Errorf("writing snapshot: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return Header{}, fmt.Errorf("syncing snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return Header{}, fmt.Errorf("closing snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return Header{}, fmt.Errorf("renaming snapshot: %w", err)
	}
	return header, nil
}
