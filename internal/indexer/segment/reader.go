package segment

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
)

// ErrCorrupt is returned for files that fail header or checksum validation.
var ErrCorrupt = errors.New("corrupt snapshot")

// Read loads the snapshot at path. A missing file is reported through
// os.ErrNotExist so callers can treat it as an empty index.
func Read(path string) ([]Record, Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Header{}, fmt.Errorf("opening snapshot: %w", err)
	}
	if len(data) < HeaderSize+FooterSize {
		return nil, Header{}, fmt.Errorf("%w: %d bytes is too short", ErrCorrupt, len(data))
	}
	header := Header{
		Magic:     binary.LittleEndian.Uint32(data[0:4]),
		Version:   binary.LittleEndian.Uint32(data[4:8]),
		DocCount:  binary.LittleEndian.Uint32(data[8:12]),
		TermCount: binary.LittleEndian.Uint32(data[12:16]),
		CreatedAt: int64(binary.LittleEndian.Uint64(data[16:24])),
		BodySize:  int64(binary.LittleEndian.Uint64(data[24:32])),
	}
	if header.Magic != MagicBytes {
		return nil, header, fmt.Errorf("%w: bad magic bytes %x", ErrCorrupt, header.Magic)
	}
	if header.Version != FormatVersion {
		return nil, header, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, header.Version)
	}
	if int64(len(data)) != int64(HeaderSize)+header.BodySize+int64(FooterSize) {
		return nil, header, fmt.Errorf("%w: body size %d does not match file", ErrCorrupt, header.BodySize)
	}
	body := data[HeaderSize : int64(HeaderSize)+header.BodySize]
	sum := binary.LittleEndian.Uint32(data[len(data)-FooterSize:])
	if crc32.ChecksumIEEE(body) != sum {
		return nil, header, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	var records []Record
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, header, fmt.Errorf("parsing snapshot: %w", err)
	}
	if uint32(len(records)) != header.DocCount {
		return nil, header, fmt.Errorf("%w: header says %d docs, body has %d", ErrCorrupt, header.DocCount, len(records))
	}
	return records, header, nil
}
