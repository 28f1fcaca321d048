// This file resolves the text encoding of 8-bit string properties and
// decodes both 8-bit and UTF-16LE strings.

package msg

import (
	"strings"

	"unicode/utf16"

	"github.com/dsoprea/go-logging"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

var (
	encodingLogger = log.NewLogger("msg.encoding")
)

const (
	// Message-level code-page properties, in lookup order.
	propIDMessageCodepage = uint16(0x3ffd)
	propIDInternetCPID    = uint16(0x3fde)

	codepageUTF8  = uint32(65001)
	codepageASCII = uint32(20127)

	// Windows-1252 is the documented fallback when nothing in the message
	// declares a code page.
	defaultCodepage = uint32(1252)
)

// codepageEncodings maps the Windows code-page identifiers we can decode to
// their decoder. All of these substitute U+FFFD for undecodable sequences
// rather than failing or truncating.
var codepageEncodings = map[uint32]encoding.Encoding{
	874:   charmap.Windows874,
	932:   japanese.ShiftJIS,
	936:   simplifiedchinese.GBK,
	949:   korean.EUCKR,
	950:   traditionalchinese.Big5,
	1250:  charmap.Windows1250,
	1251:  charmap.Windows1251,
	1252:  charmap.Windows1252,
	1253:  charmap.Windows1253,
	1254:  charmap.Windows1254,
	1255:  charmap.Windows1255,
	1256:  charmap.Windows1256,
	1257:  charmap.Windows1257,
	1258:  charmap.Windows1258,
	20866: charmap.KOI8R,
	28591: charmap.ISO8859_1,
	28592: charmap.ISO8859_2,
	28595: charmap.ISO8859_5,
	28599: charmap.ISO8859_9,
	54936: simplifiedchinese.GB18030,
}

// resolveCodepage determines the code page for 8-bit strings in the given
// set: the message code-page property first, then the internet code-page
// property.
func resolveCodepage(ps *PropertySet) (codepage uint32, found bool) {
	if value, ok := ps.GetInt32(propIDMessageCodepage); ok == true {
		return uint32(value), true
	}

	if value, ok := ps.GetInt32(propIDInternetCPID); ok == true {
		return uint32(value), true
	}

	return 0, false
}

// DecodeString8 decodes an 8-bit string under the given code page. A code
// page we recognize but cannot decode degrades to the fallback decoder:
// partial text always beats failure here.
func DecodeString8(raw []byte, codepage uint32) string {
	for len(raw) > 0 && raw[len(raw)-1] == 0 {
		raw = raw[:len(raw)-1]
	}

	if len(raw) == 0 {
		return ""
	}

	if codepage == codepageUTF8 || codepage == codepageASCII {
		return strings.ToValidUTF8(string(raw), "�")
	}

	enc, known := codepageEncodings[codepage]
	if known == false {
		encodingLogger.Warningf(nil, "No decoder for code page (%d); falling back to (%d).", codepage, defaultCodepage)
		enc = codepageEncodings[defaultCodepage]
	}

	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		// The x/text decoders substitute rather than fail, but guard the
		// fallback anyway.
		decoded, _ = codepageEncodings[defaultCodepage].NewDecoder().Bytes(raw)
	}

	return string(decoded)
}

// DecodeUTF16 decodes a UTF-16LE string. An odd trailing byte is dropped,
// trailing NULs are trimmed, and an unpaired surrogate decodes to U+FFFD
// rather than failing the value.
func DecodeUTF16(raw []byte) string {
	units := make([]uint16, 0, len(raw)/2)

	for i := 0; i+2 <= len(raw); i += 2 {
		units = append(units, uint16(raw[i])|uint16(raw[i+1])<<8)
	}

	for len(units) > 0 && units[len(units)-1] == 0 {
		units = units[:len(units)-1]
	}

	return string(utf16.Decode(units))
}
