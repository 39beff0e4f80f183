package core

import (
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// CookHighASCII converts a raw high-ASCII byte string (DOS 3.3, ProDOS,
// Pascal filenames, which store printable characters with the high bit set)
// to a cooked display string. Control characters (<0x20 after masking) and
// DEL are rendered as Unicode control pictures (U+2400 block, U+2421 for
// DEL) per §9 so the mapping is reversible for the printable range.
func CookHighASCII(raw []byte) string {
	var b strings.Builder
	for _, c := range raw {
		ch := c &^ 0x80
		b.WriteRune(cookByte(ch))
	}
	return b.String()
}

// CookMacRoman converts a raw Mac OS Roman byte string (HFS/MFS filenames)
// to a cooked display string, decoding the 128-255 range through the real
// Mac OS Roman code page (golang.org/x/text/encoding/charmap.MacintoshRoman)
// rather than passing high bytes through unmapped, then remapping the
// control range to control pictures per §9.
func CookMacRoman(raw []byte) string {
	decoded, err := charmap.MacintoshRoman.NewDecoder().Bytes(raw)
	if err != nil {
		// Undefined code points are rare in MacintoshRoman (it assigns all
		// 256 values); fall back to the raw bytes so cooking never fails.
		decoded = raw
	}
	var b strings.Builder
	for _, r := range string(decoded) {
		if r < 0x80 {
			b.WriteRune(cookByte(byte(r)))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CookControlBytes remaps only bytes in the control range (<0x20, and 0x7F)
// to control pictures, passing everything else through as Latin-1-valued
// runes (best-effort; see §9 on inverse/flashing glyphs).
func CookControlBytes(raw []byte) string {
	var b strings.Builder
	for _, c := range raw {
		b.WriteRune(cookByte(c))
	}
	return b.String()
}

func cookByte(ch byte) rune {
	switch {
	case ch == 0x7F:
		return '␡' // SYMBOL FOR DELETE
	case ch < 0x20:
		return rune(0x2400 + int(ch)) // SYMBOL FOR <control>
	default:
		return rune(ch)
	}
}

// UncookToHighASCII reverses CookHighASCII for the printable range,
// re-setting the high bit. Control pictures map back to their original
// control byte; any other rune is best-effort truncated to its low byte.
// This is reversible only for codepoints CookHighASCII could have produced.
func UncookToHighASCII(cooked string) []byte {
	runes := []rune(cooked)
	out := make([]byte, 0, len(runes))
	for _, r := range runes {
		out = append(out, uncookRune(r)|0x80)
	}
	return out
}

// UncookToBytes reverses CookControlBytes. Runes above U+00FF are truncated
// to their low byte, so CookMacRoman output is reversed by
// UncookFromMacRoman instead.
func UncookToBytes(cooked string) []byte {
	runes := []rune(cooked)
	out := make([]byte, 0, len(runes))
	for _, r := range runes {
		out = append(out, uncookRune(r))
	}
	return out
}

// UncookFromMacRoman reverses CookMacRoman: control pictures map back to
// their control byte, everything else is re-encoded through Mac OS Roman.
func UncookFromMacRoman(cooked string) []byte {
	var plain strings.Builder
	for _, r := range cooked {
		switch {
		case r == '␡':
			plain.WriteByte(0x7F)
		case r >= 0x2400 && r <= 0x241F:
			plain.WriteByte(byte(r - 0x2400))
		default:
			plain.WriteRune(r)
		}
	}
	encoded, err := charmap.MacintoshRoman.NewEncoder().Bytes([]byte(plain.String()))
	if err != nil {
		return []byte(plain.String())
	}
	return encoded
}

func uncookRune(r rune) byte {
	switch {
	case r == '␡':
		return 0x7F
	case r >= 0x2400 && r <= 0x241F:
		return byte(r - 0x2400)
	default:
		return byte(r)
	}
}
