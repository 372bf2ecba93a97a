package shard

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"time"

	"github.com/hupe1980/vectra/metadata"
	"github.com/hupe1980/vectra/model"
)

// Record framing inside a shard:
//
//	[payloadLen:4][crc32:4][payload]
//	payload = [index:8][createdAt:8][values:dim*4][metadata binary]
//
// The CRC covers the payload only. A short or checksum-failing trailing
// record marks the truncation point of a crash-interrupted append; readers
// discard it and everything after it.

var errTruncatedRecord = errors.New("truncated shard record")

func encodeRecord(rec *model.Record, dimension int) ([]byte, error) {
	if len(rec.Values) != dimension {
		return nil, fmt.Errorf("record %d has %d values, shard dimension is %d",
			rec.Index, len(rec.Values), dimension)
	}

	metaBytes, err := rec.Metadata.MarshalBinary()
	if err != nil {
		return nil, err
	}

	payloadLen := 16 + dimension*elementWidth + len(metaBytes)
	buf := make([]byte, 8, 8+payloadLen)

	buf = binary.LittleEndian.AppendUint64(buf, rec.Index)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(rec.CreatedAt.UnixNano()))
	for _, v := range rec.Values {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	buf = append(buf, metaBytes...)

	binary.LittleEndian.PutUint32(buf[0:4], uint32(payloadLen))
	binary.LittleEndian.PutUint32(buf[4:8], crc32.ChecksumIEEE(buf[8:]))
	return buf, nil
}

// decodeRecord reads one record. It returns errTruncatedRecord when the
// stream ends mid-record or the checksum fails, signalling the caller to
// stop and discard the tail.
func decodeRecord(r io.Reader, dimension int) (model.Record, error) {
	var frame [8]byte
	if _, err := io.ReadFull(r, frame[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return model.Record{}, io.EOF
		}
		return model.Record{}, errTruncatedRecord
	}

	payloadLen := binary.LittleEndian.Uint32(frame[0:4])
	wantCRC := binary.LittleEndian.Uint32(frame[4:8])

	minLen := uint32(16 + dimension*elementWidth)
	if payloadLen < minLen || payloadLen > maxRecordPayload {
		return model.Record{}, errTruncatedRecord
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return model.Record{}, errTruncatedRecord
	}
	if crc32.ChecksumIEEE(payload) != wantCRC {
		return model.Record{}, errTruncatedRecord
	}

	rec := model.Record{
		Index:     binary.LittleEndian.Uint64(payload[0:8]),
		CreatedAt: time.Unix(0, int64(binary.LittleEndian.Uint64(payload[8:16]))).UTC(),
		Values:    make([]float32, dimension),
	}
	off := 16
	for i := 0; i < dimension; i++ {
		rec.Values[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[off : off+4]))
		off += 4
	}
	if off < len(payload) {
		var meta metadata.Metadata
		if err := meta.UnmarshalBinary(payload[off:]); err != nil {
			return model.Record{}, errTruncatedRecord
		}
		rec.Metadata = meta
	}
	return rec, nil
}

// maxRecordPayload guards against interpreting garbage as a huge length
// prefix; 64 MiB comfortably exceeds any legitimate record.
const maxRecordPayload = 64 << 20
