package httpcache

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// serializerMagic tags the wire format version; a value read with a
// different magic is corrupt and decoded as ErrCorruptEntry, never silently
// misparsed.
var serializerMagic = [4]byte{'H', 'C', 'E', '1'}

// ErrCorruptEntry is returned by DecodeEntry when the payload is truncated
// or otherwise structurally invalid. A storage-key mismatch is NOT this
// error — per §4.6 it is reported as a miss (nil, nil) instead.
var ErrCorruptEntry = errors.New("httpcache: corrupt serialized entry")

// reservedHeaderPrefix is the pseudo-header namespace the serializer
// reserves for itself. A real header that happens to start with this
// prefix is percent-escaped on the wire so it can never collide with an
// internal pseudo-header the serializer emits now or in the future (§6).
const reservedHeaderPrefix = "hc-"

func escapeReservedHeaderName(name string) string {
	if len(name) >= len(reservedHeaderPrefix) && strings.EqualFold(name[:len(reservedHeaderPrefix)], reservedHeaderPrefix) {
		return "hc%2D" + name[len(reservedHeaderPrefix):]
	}
	return name
}

func unescapeReservedHeaderName(name string) string {
	const escaped = "hc%2D"
	if len(name) >= len(escaped) && strings.EqualFold(name[:len(escaped)], escaped) {
		return "hc-" + name[len(escaped):]
	}
	return name
}

// EncodeEntry renders e to the bit-stable wire format described in §6: a
// magic, the storage key (self-check), the immutable scalar fields, the
// header block, the body (or a zero-length marker), and the variant map.
// It is used only by non-in-memory backends (§4.6); the in-memory backend
// stores *Entry directly.
func EncodeEntry(ctx context.Context, storageKey string, e *Entry) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(serializerMagic[:])
	writeLPString(&buf, storageKey)

	writeInt64(&buf, e.RequestInstant.UnixMilli())
	writeInt64(&buf, e.ResponseInstant.UnixMilli())
	writeInt32(&buf, int32(e.Kind))
	writeInt32(&buf, int32(e.StatusCode))
	writeLPString(&buf, e.RequestMethod)
	writeLPString(&buf, e.RequestURI)

	var headerBlock bytes.Buffer
	for _, f := range e.Headers {
		headerBlock.WriteString(escapeReservedHeaderName(f.Name))
		headerBlock.WriteString(": ")
		headerBlock.WriteString(f.Value)
		headerBlock.WriteString("\r\n")
	}
	writeLPBytes(&buf, headerBlock.Bytes())

	if e.Resource == nil {
		buf.WriteByte(0)
	} else {
		buf.WriteByte(1)
		body, err := ReadAll(ctx, e.Resource)
		if err != nil {
			return nil, fmt.Errorf("httpcache: reading resource for serialization: %w", err)
		}
		writeLPBytes(&buf, body)
	}

	writeInt32(&buf, int32(len(e.Variants)))
	for k, v := range e.Variants {
		writeLPString(&buf, k)
		writeLPString(&buf, v)
	}

	return buf.Bytes(), nil
}

// DecodeEntry parses the wire format produced by EncodeEntry. A storage-key
// mismatch against expectedKey yields (nil, nil) — a miss, not an error —
// matching the self-check contract in §4.6.
func DecodeEntry(expectedKey string, data []byte) (*Entry, error) {
	r := bytes.NewReader(data)
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || magic != serializerMagic {
		return nil, ErrCorruptEntry
	}
	storedKey, err := readLPString(r)
	if err != nil {
		return nil, ErrCorruptEntry
	}
	if storedKey != expectedKey {
		return nil, nil
	}

	reqMillis, err1 := readInt64(r)
	respMillis, err2 := readInt64(r)
	kind, err3 := readInt32(r)
	status, err4 := readInt32(r)
	method, err5 := readLPString(r)
	uri, err6 := readLPString(r)
	for _, e := range []error{err1, err2, err3, err4, err5, err6} {
		if e != nil {
			return nil, ErrCorruptEntry
		}
	}

	headerBlock, err := readLPBytes(r)
	if err != nil {
		return nil, ErrCorruptEntry
	}
	headers, err := parseHeaderBlock(headerBlock)
	if err != nil {
		return nil, ErrCorruptEntry
	}

	hasBody, err := r.ReadByte()
	if err != nil {
		return nil, ErrCorruptEntry
	}
	var resource Resource
	if hasBody == 1 {
		body, err := readLPBytes(r)
		if err != nil {
			return nil, ErrCorruptEntry
		}
		resource = NewBytesResource(body)
	}

	variantCount, err := readInt32(r)
	if err != nil {
		return nil, ErrCorruptEntry
	}
	var variants map[string]string
	if variantCount > 0 {
		variants = make(map[string]string, variantCount)
		for i := int32(0); i < variantCount; i++ {
			k, err1 := readLPString(r)
			v, err2 := readLPString(r)
			if err1 != nil || err2 != nil {
				return nil, ErrCorruptEntry
			}
			variants[k] = v
		}
	}

	return &Entry{
		Kind:            Kind(kind),
		RequestInstant:  millisToTime(reqMillis),
		ResponseInstant: millisToTime(respMillis),
		StatusCode:      int(status),
		Headers:         headers,
		RequestMethod:   method,
		RequestURI:      uri,
		Resource:        resource,
		Variants:        variants,
	}, nil
}

func millisToTime(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func writeInt64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func writeInt32(buf *bytes.Buffer, v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	buf.Write(b[:])
}

func writeLPBytes(buf *bytes.Buffer, data []byte) {
	writeInt32(buf, int32(len(data)))
	buf.Write(data)
}

func writeLPString(buf *bytes.Buffer, s string) {
	writeLPBytes(buf, []byte(s))
}

func readInt64(r *bytes.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

func readInt32(r *bytes.Reader) (int32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b[:])), nil
}

func readLPBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readInt32(r)
	if err != nil || n < 0 {
		return nil, ErrCorruptEntry
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, ErrCorruptEntry
	}
	return out, nil
}

func readLPString(r *bytes.Reader) (string, error) {
	b, err := readLPBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func parseHeaderBlock(block []byte) (Headers, error) {
	var headers Headers
	text := string(block)
	if text == "" {
		return headers, nil
	}
	for _, line := range strings.Split(text, "\r\n") {
		if line == "" {
			continue
		}
		i := strings.Index(line, ": ")
		if i < 0 {
			return nil, ErrCorruptEntry
		}
		headers.Add(unescapeReservedHeaderName(line[:i]), line[i+2:])
	}
	return headers, nil
}
