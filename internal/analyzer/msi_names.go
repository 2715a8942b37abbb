package analyzer

import "strings"

// MSI obfuscates stream names with a reversible substitution over a 64-symbol
// alphabet (digits, letters, '.' and '_'). Code points in 0x3800-0x47FF pack
// two alphabet symbols; 0x4800-0x483F carry a single symbol; 0x4840 marks a
// table-backed stream. Everything else passes through unchanged.
func decodeStreamName(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= 0x3800 && r < 0x4800:
			r -= 0x3800
			b.WriteString(decodeNameSymbol(r & 0x3F))
			b.WriteString(decodeNameSymbol(r >> 6))
		case r >= 0x4800 && r < 0x4840:
			b.WriteString(decodeNameSymbol(r - 0x4800))
		case r == 0x4840:
			b.WriteString(msiTableStreamPrefix)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func decodeNameSymbol(x rune) string {
	switch {
	case x < 10:
		return string('0' + x)
	case x < 10+26:
		return string('A' + x - 10)
	case x < 10+26+26:
		return string('a' + x - 10 - 26)
	case x == 10+26+26:
		return "."
	default:
		return "_"
	}
}
