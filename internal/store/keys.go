package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jw6ventures/studydesk/internal/migrations"
)

const metaBucket = "meta"

var schemaVersionKey = []byte("schema_version")

func indexBucketName(collection, index string) []byte {
	return []byte("idx/" + collection + "/" + index)
}

// lookupKey turns a record identifier into its on-disk key. Auto-increment
// collections use big-endian integers so cursor order is insertion order.
// An identifier no record could carry reports false.
func lookupKey(c migrations.Collection, id string) ([]byte, bool) {
	if id == "" {
		return nil, false
	}
	if !c.AutoIncrement {
		return []byte(id), true
	}
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil || n == 0 {
		return nil, false
	}
	return seqKey(n), true
}

func seqKey(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

// document is a decoded top-level JSON object.
type document map[string]json.RawMessage

func parseDocument(doc []byte) (document, error) {
	var fields document
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: record must be a JSON object", ErrInvalidRecord)
	}
	return fields, nil
}

// recordKey extracts the key field. For auto-increment collections the
// returned number is 0 when the record has no id yet.
func recordKey(c migrations.Collection, fields document) (key []byte, seq uint64, err error) {
	raw, ok := fields[c.Key]
	if c.AutoIncrement {
		if !ok || isNull(raw) {
			return nil, 0, nil
		}
		n, err := strconv.ParseUint(string(bytes.TrimSpace(raw)), 10, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %s.%s must be a non-negative integer", ErrInvalidRecord, c.Name, c.Key)
		}
		if n == 0 {
			return nil, 0, nil
		}
		return seqKey(n), n, nil
	}

	if !ok {
		return nil, 0, fmt.Errorf("%w: %s record has no %q field", ErrInvalidRecord, c.Name, c.Key)
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil || id == "" {
		return nil, 0, fmt.Errorf("%w: %s.%s must be a non-empty string", ErrInvalidRecord, c.Name, c.Key)
	}
	return []byte(id), 0, nil
}

// indexValue normalizes an indexed field. Records whose field is missing,
// null, an object or an array are not indexed.
func indexValue(raw json.RawMessage) ([]byte, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || isNull(raw) {
		return nil, false
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, false
		}
		return []byte(s), true
	case '{', '[':
		return nil, false
	default:
		return append([]byte(nil), raw...), true
	}
}

// queryValue encodes a lookup value the same way indexValue encodes stored fields.
func queryValue(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode index value: %w", err)
	}
	val, ok := indexValue(raw)
	if !ok {
		return nil, fmt.Errorf("index value %v is not a string, number or boolean", v)
	}
	return val, nil
}

// indexEntry is a length-prefixed value followed by the primary key, so a
// prefix scan on indexPrefix(value) matches exactly that value.
func indexEntry(value, key []byte) []byte {
	p := indexPrefix(value)
	return append(p, key...)
}

func indexPrefix(value []byte) []byte {
	buf := make([]byte, binary.MaxVarintLen64, binary.MaxVarintLen64+len(value))
	n := binary.PutUvarint(buf, uint64(len(value)))
	return append(buf[:n], value...)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
