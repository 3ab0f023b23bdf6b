// Package petscii converts text between the host side (UTF-8) and the
// character set a Commodore 8-bit machine puts on the serial bus.
//
// The mapping follows the "unshifted" convention disk drives use for
// filenames: lower case ASCII letters become PETSCII upper case (0x41-0x5A),
// upper case ASCII letters become shifted PETSCII (0xC1-0xDA). Accented
// letters are folded to their base letter before encoding.
package petscii

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Special characters that have a fixed place in the PETSCII table.
const (
	Pound      = 0x5C
	ArrowUp    = 0x5E
	ArrowLeft  = 0x5F
	ShiftSpace = 0xA0
	Pi         = 0xFF
	Unknown    = '?'
)

// Encoding is the PETSCII character set as an x/text encoding. Its encoder
// takes UTF-8 and produces PETSCII, its decoder does the reverse.
var Encoding encoding.Encoding = petsciiEncoding{}

type petsciiEncoding struct{}

func (petsciiEncoding) NewDecoder() *encoding.Decoder {
	return &encoding.Decoder{Transformer: decoder{}}
}

func (petsciiEncoding) NewEncoder() *encoding.Encoder {
	return &encoding.Encoder{Transformer: encoder{}}
}

func (petsciiEncoding) String() string { return "PETSCII" }

// ToPETSCII transcodes a UTF-8 string to PETSCII bytes.
func ToPETSCII(s string) string {
	if s == "" {
		return s
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC, Encoding.NewEncoder())
	out, _, err := transform.String(t, s)
	if err != nil {
		return strings.Repeat(string(rune(Unknown)), utf8.RuneCountInString(s))
	}
	return out
}

// ToUTF8 transcodes PETSCII bytes to a UTF-8 string.
func ToUTF8(s string) string {
	if s == "" {
		return s
	}
	out, err := Encoding.NewDecoder().String(s)
	if err != nil {
		return s
	}
	return out
}

// IsPETSCII reports whether s already looks like PETSCII, i.e. it carries
// no lower case ASCII letters and no multi-byte UTF-8 sequences.
func IsPETSCII(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			return false
		}
	}
	return !utf8.ValidString(s) || !hasMultiByte(s)
}

func hasMultiByte(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return true
		}
	}
	return false
}

func encodeRune(r rune) byte {
	switch {
	case r >= 'a' && r <= 'z':
		return byte(r - 'a' + 0x41)
	case r >= 'A' && r <= 'Z':
		return byte(r - 'A' + 0xC1)
	case r == '_':
		return ArrowLeft
	case r == '£':
		return Pound
	case r == '↑':
		return ArrowUp
	case r == '←':
		return ArrowLeft
	case r == 'π':
		return Pi
	case r == '\\':
		return '/'
	case r < utf8.RuneSelf:
		return byte(r)
	}
	return Unknown
}

func decodeByte(c byte) rune {
	switch {
	case c >= 0x41 && c <= 0x5A:
		return rune(c-0x41) + 'a'
	case c >= 0x61 && c <= 0x7A:
		return rune(c-0x61) + 'A'
	case c >= 0xC1 && c <= 0xDA:
		return rune(c-0xC1) + 'A'
	case c == Pound:
		return '£'
	case c == ArrowUp:
		return '↑'
	case c == ArrowLeft:
		return '←'
	case c == ShiftSpace:
		return ' '
	case c == Pi:
		return 'π'
	case c < utf8.RuneSelf:
		return rune(c)
	}
	return Unknown
}

type encoder struct{ transform.NopResetter }

func (encoder) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		if nDst >= len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		r, size := rune(src[nSrc]), 1
		if r >= utf8.RuneSelf {
			if !atEOF && !utf8.FullRune(src[nSrc:]) {
				return nDst, nSrc, transform.ErrShortSrc
			}
			r, size = utf8.DecodeRune(src[nSrc:])
		}
		dst[nDst] = encodeRune(r)
		nDst++
		nSrc += size
	}
	return nDst, nSrc, nil
}

type decoder struct{ transform.NopResetter }

func (decoder) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	var buf [utf8.UTFMax]byte
	for nSrc < len(src) {
		r := decodeByte(src[nSrc])
		n := utf8.EncodeRune(buf[:], r)
		if nDst+n > len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		copy(dst[nDst:], buf[:n])
		nDst += n
		nSrc++
	}
	return nDst, nSrc, nil
}
