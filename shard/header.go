package shard

import (
	"encoding/binary"
	"fmt"
	"io"
)

var (
	shardMagic          = [4]byte{'V', 'T', 'S', '0'}
	shardHeaderVersion  = uint16(1)
	shardHeaderFixedLen = 16
)

// float32 values
const elementWidth = 4

type headerInfo struct {
	Dimension        int
	Compressed       bool
	CompressionLevel int
}

func writeHeader(w io.Writer, info headerInfo) error {
	var flags uint16
	if info.Compressed {
		flags |= 1
	}
	level := uint8(0)
	if info.Compressed {
		level = uint8(info.CompressionLevel)
	}

	buf := make([]byte, 0, shardHeaderFixedLen)
	buf = append(buf, shardMagic[:]...)
	var fixed [12]byte
	binary.LittleEndian.PutUint16(fixed[0:2], shardHeaderVersion)
	binary.LittleEndian.PutUint16(fixed[2:4], flags)
	binary.LittleEndian.PutUint32(fixed[4:8], uint32(info.Dimension))
	fixed[8] = elementWidth
	fixed[9] = level
	// fixed[10:12] reserved
	buf = append(buf, fixed[:]...)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write shard header: %w", err)
	}
	return nil
}

func readHeader(r io.Reader) (headerInfo, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return headerInfo{}, fmt.Errorf("failed to read shard header magic: %w", err)
	}
	if magic != shardMagic {
		return headerInfo{}, fmt.Errorf("unsupported shard format: invalid header magic")
	}

	fixed := make([]byte, shardHeaderFixedLen-4)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return headerInfo{}, fmt.Errorf("failed to read shard header: %w", err)
	}

	version := binary.LittleEndian.Uint16(fixed[0:2])
	if version != shardHeaderVersion {
		return headerInfo{}, fmt.Errorf("unsupported shard header version: %d", version)
	}
	flags := binary.LittleEndian.Uint16(fixed[2:4])
	dimension := binary.LittleEndian.Uint32(fixed[4:8])
	if fixed[8] != elementWidth {
		return headerInfo{}, fmt.Errorf("unsupported shard element width: %d", fixed[8])
	}
	level := int(fixed[9])

	return headerInfo{
		Dimension:        int(dimension),
		Compressed:       (flags & 1) != 0,
		CompressionLevel: level,
	}, nil
}
