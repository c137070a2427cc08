// Package chunkfile implements the compact binary chunk format used to
// hand datasets between pipeline runs without re-parsing text. A file is a
// schema header followed by self-delimiting frames, one per chunk, each
// closed by an xxh3 checksum so torn writes and bit rot surface as corrupt
// frames instead of quietly wrong data.
//
// Layout:
//
//	magic "TBC1"
//	uvarint header length, header JSON {"columns": [...]}
//	frames:
//	  uvarint chunk index
//	  uvarint row count
//	  uvarint payload length
//	  payload, cells row-major, each a tag byte plus body
//	  8-byte little-endian xxh3 of the payload
//
// Cell tags: 0 null, 1 float64 bits (LE), 2 categorical level index
// (uvarint), 3 text (uvarint length + UTF-8), 4 timestamp (varint Unix
// microseconds). Categorical cells travel as level indexes, which keeps
// them small and makes membership validation free on decode.
package chunkfile

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/zeebo/xxh3"

	"tabpipe/internal/dataset"
)

const magic = "TBC1"

// maxFramePayload bounds a single frame so a corrupted length cannot ask
// for an absurd allocation.
const maxFramePayload = 256 << 20

const (
	tagNull = iota
	tagNumeric
	tagLevel
	tagText
	tagTime
)

type header struct {
	Columns []dataset.Column `json:"columns"`
}

// corrupt wraps a format-level problem as an unavailable source.
func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: chunkfile: %s", dataset.ErrSourceUnavailable, fmt.Sprintf(format, args...))
}

// EncodeHeader writes the magic and the schema header.
func EncodeHeader(w io.Writer, schema dataset.Schema) error {
	body, err := json.Marshal(header{Columns: schema})
	if err != nil {
		return fmt.Errorf("chunkfile: marshal header: %w", err)
	}
	buf := make([]byte, 0, len(magic)+binary.MaxVarintLen64+len(body))
	buf = append(buf, magic...)
	buf = binary.AppendUvarint(buf, uint64(len(body)))
	buf = append(buf, body...)
	_, err = w.Write(buf)
	return err
}

// DecodeHeader reads the magic and schema header and validates the schema.
func DecodeHeader(br *bufio.Reader) (dataset.Schema, error) {
	got := make([]byte, len(magic))
	if _, err := io.ReadFull(br, got); err != nil {
		return nil, corrupt("short magic: %v", err)
	}
	if string(got) != magic {
		return nil, corrupt("bad magic %q", got)
	}
	n, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, corrupt("header length: %v", err)
	}
	if n > maxFramePayload {
		return nil, corrupt("header length %d exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(br, body); err != nil {
		return nil, corrupt("short header: %v", err)
	}
	var h header
	if err := json.Unmarshal(body, &h); err != nil {
		return nil, corrupt("header JSON: %v", err)
	}
	schema := dataset.Schema(h.Columns)
	if err := schema.Validate(); err != nil {
		return nil, corrupt("header schema: %v", err)
	}
	return schema, nil
}

// EncodeFrame writes one chunk as a frame. The index recorded is the
// caller's; rows must match the schema the header was written with.
func EncodeFrame(w io.Writer, index int, chunk *dataset.Chunk, schema dataset.Schema) error {
	payload := make([]byte, 0, 64*chunk.Len())
	for _, row := range chunk.Rows {
		if len(row.V) != len(schema) {
			return fmt.Errorf("chunkfile: row has %d cells, schema has %d columns", len(row.V), len(schema))
		}
		for i, col := range schema {
			var err error
			payload, err = appendCell(payload, col, row.V[i])
			if err != nil {
				return err
			}
		}
	}

	head := make([]byte, 0, 3*binary.MaxVarintLen64)
	head = binary.AppendUvarint(head, uint64(index))
	head = binary.AppendUvarint(head, uint64(chunk.Len()))
	head = binary.AppendUvarint(head, uint64(len(payload)))
	if _, err := w.Write(head); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	var sum [8]byte
	binary.LittleEndian.PutUint64(sum[:], xxh3.Hash(payload))
	_, err := w.Write(sum[:])
	return err
}

func appendCell(buf []byte, col dataset.Column, v any) ([]byte, error) {
	if v == nil {
		return append(buf, tagNull), nil
	}
	switch col.Kind {
	case dataset.KindNumeric:
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("chunkfile: column %q: %T is not numeric", col.Name, v)
		}
		buf = append(buf, tagNumeric)
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(f)), nil
	case dataset.KindCategorical:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("chunkfile: column %q: %T is not a level string", col.Name, v)
		}
		ix := col.LevelIndex(s)
		if ix < 0 {
			return nil, fmt.Errorf("chunkfile: column %q: %q is not a declared level", col.Name, s)
		}
		buf = append(buf, tagLevel)
		return binary.AppendUvarint(buf, uint64(ix)), nil
	case dataset.KindText:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("chunkfile: column %q: %T is not text", col.Name, v)
		}
		buf = append(buf, tagText)
		buf = binary.AppendUvarint(buf, uint64(len(s)))
		return append(buf, s...), nil
	case dataset.KindTimestamp:
		t, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("chunkfile: column %q: %T is not a timestamp", col.Name, v)
		}
		buf = append(buf, tagTime)
		return binary.AppendVarint(buf, t.UnixMicro()), nil
	default:
		return nil, fmt.Errorf("chunkfile: column %q has unknown kind", col.Name)
	}
}

// DecodeFrame reads the next frame. A clean EOF at a frame boundary
// returns io.EOF; anything short, overlong or failing its checksum is a
// corrupt source.
func DecodeFrame(br *bufio.Reader, schema dataset.Schema) (int, *dataset.Chunk, error) {
	index, err := binary.ReadUvarint(br)
	if err == io.EOF {
		return 0, nil, io.EOF
	}
	if err != nil {
		return 0, nil, corrupt("frame index: %v", err)
	}
	rowCount, err := binary.ReadUvarint(br)
	if err != nil {
		return 0, nil, corrupt("frame row count: %v", err)
	}
	payloadLen, err := binary.ReadUvarint(br)
	if err != nil {
		return 0, nil, corrupt("frame payload length: %v", err)
	}
	if payloadLen > maxFramePayload {
		return 0, nil, corrupt("frame payload %d exceeds limit", payloadLen)
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(br, payload); err != nil {
		return 0, nil, corrupt("truncated frame payload: %v", err)
	}
	var sum [8]byte
	if _, err := io.ReadFull(br, sum[:]); err != nil {
		return 0, nil, corrupt("truncated frame checksum: %v", err)
	}
	if got := binary.LittleEndian.Uint64(sum[:]); got != xxh3.Hash(payload) {
		return 0, nil, corrupt("frame %d checksum mismatch", index)
	}

	chunk := &dataset.Chunk{Rows: make([]*dataset.Row, 0, rowCount)}
	rest := payload
	for r := uint64(0); r < rowCount; r++ {
		row := dataset.GetRow(len(schema))
		for i, col := range schema {
			var v any
			v, rest, err = decodeCell(rest, col)
			if err != nil {
				row.Free()
				chunk.Free()
				return 0, nil, err
			}
			row.V[i] = v
		}
		chunk.Rows = append(chunk.Rows, row)
	}
	if len(rest) != 0 {
		chunk.Free()
		return 0, nil, corrupt("frame %d has %d trailing payload bytes", index, len(rest))
	}
	return int(index), chunk, nil
}

func decodeCell(buf []byte, col dataset.Column) (any, []byte, error) {
	if len(buf) == 0 {
		return nil, nil, corrupt("payload ends mid-row")
	}
	tag := buf[0]
	buf = buf[1:]
	if tag == tagNull {
		return nil, buf, nil
	}
	switch col.Kind {
	case dataset.KindNumeric:
		if tag != tagNumeric || len(buf) < 8 {
			return nil, nil, corrupt("column %q: bad numeric cell", col.Name)
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(buf)), buf[8:], nil
	case dataset.KindCategorical:
		if tag != tagLevel {
			return nil, nil, corrupt("column %q: bad categorical cell", col.Name)
		}
		ix, n := binary.Uvarint(buf)
		if n <= 0 || ix >= uint64(len(col.Levels)) {
			return nil, nil, corrupt("column %q: level index out of range", col.Name)
		}
		return col.Levels[ix], buf[n:], nil
	case dataset.KindText:
		if tag != tagText {
			return nil, nil, corrupt("column %q: bad text cell", col.Name)
		}
		size, n := binary.Uvarint(buf)
		if n <= 0 || uint64(len(buf)-n) < size {
			return nil, nil, corrupt("column %q: text cell overruns payload", col.Name)
		}
		return string(buf[n : n+int(size)]), buf[n+int(size):], nil
	case dataset.KindTimestamp:
		if tag != tagTime {
			return nil, nil, corrupt("column %q: bad timestamp cell", col.Name)
		}
		micros, n := binary.Varint(buf)
		if n <= 0 {
			return nil, nil, corrupt("column %q: bad timestamp varint", col.Name)
		}
		return time.UnixMicro(micros).UTC(), buf[n:], nil
	default:
		return nil, nil, corrupt("column %q has unknown kind", col.Name)
	}
}
