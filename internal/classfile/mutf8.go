package classfile

import (
	"errors"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

var errBadMUTF8 = errors.New("invalid modified UTF-8")

// EncodeMUTF8 converts a Go string to the modified UTF-8 form stored in Utf8
// entries: NUL is two bytes and supplementary characters are surrogate pairs.
func EncodeMUTF8(s string) string {
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] == 0 || s[i] >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == 0:
			b.Write([]byte{0xC0, 0x80})
		case r < 0x80:
			b.WriteByte(byte(r))
		case r < 0x10000:
			writeUnit(&b, uint16(r))
		default:
			hi, lo := utf16.EncodeRune(r)
			writeUnit(&b, uint16(hi))
			writeUnit(&b, uint16(lo))
		}
	}
	return b.String()
}

func writeUnit(b *strings.Builder, u uint16) {
	if u < 0x800 {
		b.WriteByte(byte(0xC0 | u>>6))
		b.WriteByte(byte(0x80 | u&0x3F))
		return
	}
	b.WriteByte(byte(0xE0 | u>>12))
	b.WriteByte(byte(0x80 | (u>>6)&0x3F))
	b.WriteByte(byte(0x80 | u&0x3F))
}

// DecodeMUTF8 converts raw Utf8 entry bytes to a Go string.
func DecodeMUTF8(raw string) (string, error) {
	units := make([]uint16, 0, len(raw))
	plain := true
	for i := 0; i < len(raw); {
		c := raw[i]
		switch {
		case c == 0:
			return "", errBadMUTF8
		case c < 0x80:
			units = append(units, uint16(c))
			i++
		case c&0xE0 == 0xC0:
			if i+1 >= len(raw) || raw[i+1]&0xC0 != 0x80 {
				return "", errBadMUTF8
			}
			units = append(units, uint16(c&0x1F)<<6|uint16(raw[i+1]&0x3F))
			plain = false
			i += 2
		case c&0xF0 == 0xE0:
			if i+2 >= len(raw) || raw[i+1]&0xC0 != 0x80 || raw[i+2]&0xC0 != 0x80 {
				return "", errBadMUTF8
			}
			units = append(units, uint16(c&0x0F)<<12|uint16(raw[i+1]&0x3F)<<6|uint16(raw[i+2]&0x3F))
			plain = false
			i += 3
		default:
			return "", errBadMUTF8
		}
	}
	if plain {
		return raw, nil
	}
	runes := utf16.Decode(units)
	var b strings.Builder
	for _, r := range runes {
		if r == utf8.RuneError {
			return "", errBadMUTF8
		}
		b.WriteRune(r)
	}
	return b.String(), nil
}
