package extract

import (
	"bytes"
	"compress/zlib"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dvloznov/bizledger/internal/domain"
	"github.com/ledongthuc/pdf"
)

const maxStreamSize = 20 << 20

// extractPDF reads the document's text with the PDF reader. When the reader
// rejects the file, or finds too little text, it falls back to scanning the
// content streams for text shown by Tj, TJ, ' and " operators, inflating
// Flate streams first. Documents drawn with CID fonts or as images yield
// nothing either way.
func (e *Extractor) extractPDF(data []byte) (string, error) {
	const op = "extract.PDF"

	text, err := readPDF(data)
	if errors.Is(err, pdf.ErrInvalidPassword) {
		return "", encryptedPDF(op, err)
	}
	if err != nil {
		e.log.Warn().Err(err).Msg("pdf reader failed, scanning content streams")
	}
	if err != nil || tooShort(text) {
		if encryptedTrailer(data) {
			return "", encryptedPDF(op, err)
		}
		if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF")) {
			e.log.Debug().Msg("pdf header missing, scanning anyway")
		}
		text = scanPDF(data)
	}

	if tooShort(text) {
		return "", domain.NewExtractionError(op,
			"No readable text found in the PDF; it may be scanned or image-based",
			"Try converting the statement to CSV and upload it again", err)
	}
	return text, nil
}

func encryptedPDF(op string, err error) error {
	return domain.NewExtractionError(op,
		"The PDF is encrypted",
		"Remove the password protection or export the statement as CSV", err)
}

func readPDF(data []byte) (text string, err error) {
	// The reader panics on some malformed object graphs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := doc.GetPlainText()
	if err != nil {
		return "", err
	}
	raw, err := io.ReadAll(io.LimitReader(plain, maxStreamSize))
	if err != nil {
		return "", err
	}
	return normalize(string(raw)), nil
}

// encryptedTrailer reports whether the trailer dictionary names an Encrypt
// entry. Files with a cross-reference stream keep those keys in the stream's
// dictionary instead.
func encryptedTrailer(data []byte) bool {
	if i := bytes.LastIndex(data, []byte("trailer")); i >= 0 {
		dict := data[i:]
		if end := bytes.Index(dict, []byte("startxref")); end >= 0 {
			dict = dict[:end]
		}
		return bytes.Contains(dict, []byte("/Encrypt"))
	}
	i := bytes.LastIndex(data, []byte("/XRef"))
	if i < 0 {
		return false
	}
	start := bytes.LastIndex(data[:i], []byte("obj"))
	end := bytes.Index(data[i:], []byte("stream"))
	if start < 0 || end < 0 {
		return false
	}
	return bytes.Contains(data[start:i+end], []byte("/Encrypt"))
}

func scanPDF(data []byte) string {
	var b strings.Builder
	streams := pdfStreams(data)
	if len(streams) == 0 {
		streams = [][]byte{data}
	}
	for _, s := range streams {
		b.WriteString(showText(s))
		b.WriteByte('\n')
	}
	return normalize(b.String())
}

// pdfStreams returns the decoded body of every non-image stream object.
func pdfStreams(data []byte) [][]byte {
	var out [][]byte
	pos := 0
	for {
		i := bytes.Index(data[pos:], []byte("stream"))
		if i < 0 {
			break
		}
		kw := pos + i
		pos = kw + len("stream")
		if kw > 0 && data[kw-1] == 'd' {
			// "endstream"
			continue
		}

		bodyStart := pos
		if bodyStart < len(data) && data[bodyStart] == '\r' {
			bodyStart++
		}
		if bodyStart < len(data) && data[bodyStart] == '\n' {
			bodyStart++
		}
		j := bytes.Index(data[bodyStart:], []byte("endstream"))
		if j < 0 {
			break
		}
		bodyEnd := bodyStart + j
		pos = bodyEnd + len("endstream")

		dict := data[max(0, kw-512):kw]
		if d := bytes.LastIndex(dict, []byte("<<")); d >= 0 {
			dict = dict[d:]
		}
		if bytes.Contains(dict, []byte("/Image")) {
			continue
		}

		body := bytes.TrimRight(data[bodyStart:bodyEnd], "\r\n")
		if bytes.Contains(dict, []byte("/FlateDecode")) {
			if inflated, ok := inflate(body); ok {
				body = inflated
			}
		}
		out = append(out, body)
	}
	return out
}

func inflate(body []byte) ([]byte, bool) {
	zr, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, false
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, maxStreamSize))
	if err != nil && len(out) == 0 {
		return nil, false
	}
	return out, true
}

// showText walks a content stream and emits the string operands of the
// text-showing operators. Positioning operators start a new line.
func showText(content []byte) string {
	var out strings.Builder
	var pending []string

	emit := func(sep string) {
		if len(pending) > 0 {
			out.WriteString(strings.Join(pending, ""))
			out.WriteString(sep)
			pending = pending[:0]
		}
	}
	newline := func() {
		s := out.String()
		if s != "" && !strings.HasSuffix(s, "\n") {
			out.WriteByte('\n')
		}
	}

	for i := 0; i < len(content); {
		c := content[i]
		switch {
		case c == '(':
			s, next := readLiteral(content, i)
			pending = append(pending, s)
			i = next
		case c == '<' && i+1 < len(content) && content[i+1] != '<':
			s, next := readHexString(content, i)
			pending = append(pending, s)
			i = next
		case c == '<' || c == '>':
			// dictionary delimiters
			i++
			for i < len(content) && (content[i] == '<' || content[i] == '>') {
				i++
			}
		case c == '%':
			for i < len(content) && content[i] != '\n' && content[i] != '\r' {
				i++
			}
		case c == '\'' || c == '"':
			newline()
			emit(" ")
			i++
		case isLetter(c) || c == '*':
			j := i
			for j < len(content) && (isLetter(content[j]) || content[j] == '*') {
				j++
			}
			switch string(content[i:j]) {
			case "Tj", "TJ":
				emit(" ")
			case "Td", "TD", "T*", "Tm", "ET", "BT":
				pending = pending[:0]
				newline()
			default:
				pending = pending[:0]
			}
			i = j
		default:
			i++
		}
	}
	return out.String()
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// readLiteral parses a balanced ( ... ) string starting at content[start].
func readLiteral(content []byte, start int) (string, int) {
	var b strings.Builder
	depth := 0
	i := start
	for i < len(content) {
		c := content[i]
		switch c {
		case '(':
			if depth > 0 {
				b.WriteByte(c)
			}
			depth++
			i++
		case ')':
			depth--
			i++
			if depth == 0 {
				return printable(b.String()), i
			}
			b.WriteByte(c)
		case '\\':
			i++
			if i >= len(content) {
				break
			}
			e := content[i]
			switch e {
			case 'n':
				b.WriteByte('\n')
				i++
			case 'r':
				b.WriteByte('\r')
				i++
			case 't':
				b.WriteByte('\t')
				i++
			case 'b':
				b.WriteByte('\b')
				i++
			case 'f':
				b.WriteByte('\f')
				i++
			case '(', ')', '\\':
				b.WriteByte(e)
				i++
			case '\r', '\n':
				// line continuation
				i++
				if e == '\r' && i < len(content) && content[i] == '\n' {
					i++
				}
			default:
				if e >= '0' && e <= '7' {
					v := 0
					n := 0
					for n < 3 && i < len(content) && content[i] >= '0' && content[i] <= '7' {
						v = v*8 + int(content[i]-'0')
						i++
						n++
					}
					b.WriteByte(byte(v))
				} else {
					b.WriteByte(e)
					i++
				}
			}
		default:
			b.WriteByte(c)
			i++
		}
	}
	return printable(b.String()), i
}

func readHexString(content []byte, start int) (string, int) {
	end := bytes.IndexByte(content[start:], '>')
	if end < 0 {
		return "", len(content)
	}
	raw := make([]byte, 0, end)
	for _, c := range content[start+1 : start+end] {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
			raw = append(raw, c)
		}
	}
	if len(raw)%2 == 1 {
		raw = append(raw, '0')
	}
	decoded, err := hex.DecodeString(string(raw))
	if err != nil {
		return "", start + end + 1
	}
	return printable(string(decoded)), start + end + 1
}

// printable replaces control and non-ASCII bytes, which in simple fonts are
// almost always glyph codes rather than text.
func printable(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c == '\n' || c == '\t' {
			continue
		}
		if c < 0x20 || c >= 0x7f {
			b[i] = ' '
		}
	}
	return string(b)
}
