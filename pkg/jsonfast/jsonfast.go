/*
Package jsonfast offers a minimal JSON builder optimized for low-allocation encoding paths.

It is tailored to the flat control packets the delivery engine emits: string,
integer and base64 byte fields inside a single object.
*/
package jsonfast

import "encoding/base64"

// Builder is a minimal JSON builder that operates on a reusable byte slice.
// It avoids allocations by appending directly into the buffer.
// Not a fully general-purpose JSON writer; tailored for known field sets.
type Builder struct {
	buf    []byte
	opened bool
	first  bool
}

// New creates a new builder with initial capacity.
func New(capacity int) *Builder {
	if capacity <= 0 {
		capacity = 256
	}
	return &Builder{
		buf:   make([]byte, 0, capacity),
		first: true,
	}
}

// Reset clears the builder for reuse.
func (b *Builder) Reset() {
	b.buf = b.buf[:0]
	b.opened = false
	b.first = true
}

// Bytes returns the underlying buffer (do not modify after use).
func (b *Builder) Bytes() []byte {
	return b.buf
}

// Copy returns a copy of the buffer that stays valid after Reset.
func (b *Builder) Copy() []byte {
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}

// BeginObject starts a JSON object.
func (b *Builder) BeginObject() {
	b.buf = append(b.buf, '{')
	b.opened = true
	b.first = true
}

// EndObject ends a JSON object.
func (b *Builder) EndObject() {
	b.buf = append(b.buf, '}')
	b.opened = false
}

// AddStringField adds a "name":"value" string field with escaping.
func (b *Builder) AddStringField(name, value string) {
	b.key(name)
	b.buf = append(b.buf, '"')
	b.escapeString(value)
	b.buf = append(b.buf, '"')
}

// AddInt64Field adds a "name":int field.
func (b *Builder) AddInt64Field(name string, v int64) {
	b.key(name)
	b.buf = appendInt(b.buf, v)
}

// AddBase64Field adds a "name":"<std base64>" field, the same encoding
// encoding/json uses for []byte.
func (b *Builder) AddBase64Field(name string, v []byte) {
	b.key(name)
	b.buf = append(b.buf, '"')
	n := base64.StdEncoding.EncodedLen(len(v))
	start := len(b.buf)
	b.buf = append(b.buf, make([]byte, n)...)
	base64.StdEncoding.Encode(b.buf[start:], v)
	b.buf = append(b.buf, '"')
}

// key writes the separator and "name": prefix.
func (b *Builder) key(name string) {
	b.sep()
	b.buf = append(b.buf, '"')
	b.escapeString(name)
	b.buf = append(b.buf, '"', ':')
}

func (b *Builder) sep() {
	if !b.opened {
		b.BeginObject()
		return
	}
	if b.first {
		b.first = false
		return
	}
	b.buf = append(b.buf, ',')
}

// escapeString escapes JSON special characters.
func (b *Builder) escapeString(s string) {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\', '"':
			b.buf = append(b.buf, '\\', c)
		case '\b':
			b.buf = append(b.buf, '\\', 'b')
		case '\f':
			b.buf = append(b.buf, '\\', 'f')
		case '\n':
			b.buf = append(b.buf, '\\', 'n')
		case '\r':
			b.buf = append(b.buf, '\\', 'r')
		case '\t':
			b.buf = append(b.buf, '\\', 't')
		default:
			if c < 0x20 {
				b.buf = append(b.buf, '\\', 'u', '0', '0', hex[c>>4], hex[c&0x0f])
			} else {
				b.buf = append(b.buf, c)
			}
		}
	}
}

// appendInt appends the decimal form of x without allocating.
func appendInt(dst []byte, x int64) []byte {
	if x == 0 {
		return append(dst, '0')
	}
	var tmp [20]byte
	i := len(tmp)
	u := uint64(x)
	if x < 0 {
		u = uint64(-x)
	}
	for u > 0 {
		i--
		tmp[i] = byte('0' + u%10)
		u /= 10
	}
	if x < 0 {
		dst = append(dst, '-')
	}
	return append(dst, tmp[i:]...)
}

var hex = "0123456789abcdef"
