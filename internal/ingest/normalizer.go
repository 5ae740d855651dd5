package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

const (
	rtfNote = "\n\n[Note: converted from RTF; formatting removed]"

	// DefaultMaxTextLength caps normalized output.
	DefaultMaxTextLength = 10000

	minJSONStringLength = 20
)

// ContentKind is the detected format of a fetched body.
type ContentKind string

const (
	KindHTML  ContentKind = "html"
	KindRTF   ContentKind = "rtf"
	KindPDF   ContentKind = "pdf"
	KindJSON  ContentKind = "json"
	KindPlain ContentKind = "plain"
)

var htmlPolicy = bluemonday.UGCPolicy()

// Normalizer converts fetched bodies into plain text.
type Normalizer struct {
	MaxLength int
}

// Normalize uses DefaultMaxTextLength.
func Normalize(body []byte, contentType string) (string, error) {
	return Normalizer{}.Normalize(body, contentType)
}

// Normalize converts body to text. An explicit "description not found" body
// returns ErrNotFound; an empty body returns "" and no error.
func (n Normalizer) Normalize(body []byte, contentType string) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", nil
	}
	if strings.EqualFold(string(trimmed), "description not found") {
		return "", ErrNotFound
	}

	max := n.MaxLength
	if max <= 0 {
		max = DefaultMaxTextLength
	}

	var text string
	switch DetectKind(trimmed, contentType) {
	case KindPDF:
		return fmt.Sprintf("[PDF document: %d bytes; text extraction not performed]", len(body)), nil
	case KindRTF:
		text = RTFToText(string(trimmed))
		if text == "" {
			return "", nil
		}
		if max <= len(rtfNote) {
			return TruncateText(text, max), nil
		}
		return TruncateText(text, max-len(rtfNote)) + rtfNote, nil
	case KindJSON:
		t, ok := jsonToText(trimmed)
		if !ok {
			text = cleanLines(stripControl(string(trimmed)))
			break
		}
		text = t
	case KindHTML:
		text = HTMLToText(string(trimmed))
	default:
		text = cleanLines(stripControl(string(trimmed)))
	}

	if strings.EqualFold(strings.TrimSpace(text), "description not found") {
		return "", ErrNotFound
	}
	return TruncateText(text, max), nil
}

// DetectKind prefers the declared content type and sniffs the body when it
// is missing or generic.
func DetectKind(body []byte, contentType string) ContentKind {
	ct := strings.ToLower(contentType)
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch {
	case ct == "application/pdf":
		return KindPDF
	case ct == "application/rtf" || ct == "text/rtf":
		return KindRTF
	case ct == "application/json" || strings.HasSuffix(ct, "+json"):
		return KindJSON
	case ct == "text/html" || ct == "application/xhtml+xml":
		return KindHTML
	case ct == "text/plain":
		// Upstream serves RTF and HTML as text/plain often enough to sniff.
		if k := sniff(body); k == KindRTF || k == KindHTML {
			return k
		}
		return KindPlain
	}
	return sniff(body)
}

func sniff(body []byte) ContentKind {
	head := bytes.TrimSpace(body)
	if len(head) == 0 {
		return KindPlain
	}
	if len(head) > 512 {
		head = head[:512]
	}
	switch {
	case bytes.HasPrefix(head, []byte(`{\rtf`)):
		return KindRTF
	case bytes.HasPrefix(head, []byte("%PDF-")):
		return KindPDF
	case (head[0] == '{' || head[0] == '[') && json.Valid(bytes.TrimSpace(body)):
		return KindJSON
	}
	switch http.DetectContentType(head) {
	case "text/html; charset=utf-8":
		return KindHTML
	case "application/pdf":
		return KindPDF
	}
	lower := bytes.ToLower(head)
	if bytes.Contains(lower, []byte("<p")) || bytes.Contains(lower, []byte("<div")) || bytes.Contains(lower, []byte("<br")) {
		return KindHTML
	}
	return KindPlain
}

// TruncateText cuts a string to max length, appending ellipsis if truncated.
func TruncateText(text string, maxLen int) string {
	if maxLen <= 0 || len(text) <= maxLen {
		return text
	}
	cut := maxLen
	if maxLen > 3 {
		cut = maxLen - 3
	}
	// Back off to a rune boundary.
	for cut > 0 && !utf8RuneStart(text[cut]) {
		cut--
	}
	if maxLen > 3 {
		return text[:cut] + "..."
	}
	return text[:cut]
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }

// HTMLToText converts HTML to plain text. Block elements become line breaks
// and list items are prefixed with "- ".
func HTMLToText(html string) string {
	safe := htmlPolicy.Sanitize(html)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(safe))
	if err != nil {
		return cleanText(safe)
	}

	doc.Find("br").Each(func(_ int, s *goquery.Selection) {
		s.ReplaceWithHtml("\n")
	})
	doc.Find("li").Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("- ")
	})
	doc.Find("p, div, li, h1, h2, h3, h4, h5, h6, tr, table, ul, ol, blockquote, pre").Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("\n")
		s.AppendHtml("\n")
	})

	return cleanLines(stripControl(doc.Text()))
}

// RTFToText strips control words and destination groups and decodes \'hh
// escapes. It handles the subset of RTF that upstream description
// attachments use.
func RTFToText(rtf string) string {
	var out strings.Builder
	depth := 0
	skipDepth := -1 // group depth at which ignorable content started
	i := 0
	n := len(rtf)

	for i < n {
		c := rtf[i]
		switch c {
		case '{':
			depth++
			if skipDepth < 0 && i+2 < n && rtf[i+1] == '\\' && rtf[i+2] == '*' {
				skipDepth = depth
			}
			i++
		case '}':
			if skipDepth == depth {
				skipDepth = -1
			}
			depth--
			i++
		case '\\':
			i++
			if i >= n {
				break
			}
			next := rtf[i]
			switch {
			case next == '\\' || next == '{' || next == '}':
				if skipDepth < 0 {
					out.WriteByte(next)
				}
				i++
			case next == '\'':
				if i+3 <= n {
					if v, err := strconv.ParseUint(rtf[i+1:i+3], 16, 8); err == nil && skipDepth < 0 {
						out.WriteRune(rune(v))
					}
					i += 3
				} else {
					i = n
				}
			case next == '*':
				i++
			case isASCIILetter(next):
				start := i
				for i < n && isASCIILetter(rtf[i]) {
					i++
				}
				word := rtf[start:i]
				if i < n && (rtf[i] == '-' || isASCIIDigit(rtf[i])) {
					i++
					for i < n && isASCIIDigit(rtf[i]) {
						i++
					}
				}
				if i < n && rtf[i] == ' ' {
					i++
				}
				if skipDepth < 0 {
					switch word {
					case "par", "line", "sect", "page", "row":
						out.WriteByte('\n')
					case "tab", "cell":
						out.WriteByte(' ')
					case "fonttbl", "colortbl", "stylesheet", "info", "pict", "header", "footer":
						skipDepth = depth
					}
				}
			default:
				// Control symbols such as \~ or \-.
				if next == '~' && skipDepth < 0 {
					out.WriteByte(' ')
				}
				i++
			}
		case '\r', '\n':
			i++
		default:
			if skipDepth < 0 {
				out.WriteByte(c)
			}
			i++
		}
	}
	return cleanLines(stripControl(out.String()))
}

func isASCIILetter(b byte) bool { return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') }
func isASCIIDigit(b byte) bool  { return b >= '0' && b <= '9' }

// jsonToText flattens every string longer than minJSONStringLength. A
// {"description": "..."} wrapper is unwrapped first.
func jsonToText(body []byte) (string, bool) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return "", false
	}
	if obj, ok := v.(map[string]any); ok {
		if d, ok := obj["description"].(string); ok && strings.TrimSpace(d) != "" {
			return normalizeFragment(d), true
		}
	}

	var parts []string
	collectStrings(v, &parts)
	return strings.Join(parts, "\n\n"), true
}

func collectStrings(v any, parts *[]string) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if len(s) > minJSONStringLength {
			*parts = append(*parts, normalizeFragment(s))
		}
	case []any:
		for _, item := range t {
			collectStrings(item, parts)
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectStrings(t[k], parts)
		}
	}
}

func normalizeFragment(s string) string {
	if strings.Contains(s, "<") && strings.Contains(s, ">") {
		return HTMLToText(s)
	}
	return cleanLines(stripControl(s))
}
