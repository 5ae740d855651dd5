package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_HTML(t *testing.T) {
	got, err := Normalize([]byte("<p>Hello <b>World</b></p>"), "text/html")
	require.NoError(t, err)
	assert.Equal(t, "Hello World", got)
}

func TestNormalize_HTMLBlocksAndLists(t *testing.T) {
	html := `<html><head><style>p{color:red}</style><script>alert(1)</script></head>
<body><h1>Scope</h1><p>Provide   support.</p><ul><li>Item one</li><li>Item two</li></ul>Line<br>break</body></html>`
	got, err := Normalize([]byte(html), "text/html; charset=utf-8")
	require.NoError(t, err)

	assert.NotContains(t, got, "alert")
	assert.NotContains(t, got, "color:red")
	assert.Contains(t, got, "Scope\n")
	assert.Contains(t, got, "Provide support.")
	assert.Contains(t, got, "- Item one")
	assert.Contains(t, got, "- Item two")
	assert.Contains(t, got, "Line\nbreak")
}

func TestNormalize_RTF(t *testing.T) {
	rtf := `{\rtf1\ansi{\fonttbl{\f0 Arial;}}{\*\generator Riched20;}\f0\fs24 Statement of Work\par Caf\'e9 services \b bold\b0  text.\par}`
	got, err := Normalize([]byte(rtf), "application/rtf")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(got, "Statement of Work\nCafé services bold text."), got)
	assert.True(t, strings.HasSuffix(got, "[Note: converted from RTF; formatting removed]"))
	assert.NotContains(t, got, "Arial")
	assert.NotContains(t, got, "Riched20")
}

func TestNormalize_RTFRespectsSmallCap(t *testing.T) {
	rtf := `{\rtf1\ansi Statement of Work for the enterprise data platform modernization\par}`
	for _, max := range []int{10, len(rtfNote), len(rtfNote) + 5} {
		got, err := Normalizer{MaxLength: max}.Normalize([]byte(rtf), "application/rtf")
		require.NoError(t, err)
		assert.LessOrEqual(t, len(got), max, "max %d", max)
	}
}

func TestNormalize_RTFSniffedFromPlain(t *testing.T) {
	got, err := Normalize([]byte(`{\rtf1 Plain body\par}`), "text/plain")
	require.NoError(t, err)
	assert.Contains(t, got, "Plain body")
	assert.Contains(t, got, "[Note: converted from RTF")
}

func TestNormalize_PDFPlaceholder(t *testing.T) {
	body := []byte("%PDF-1.4 binary")
	got, err := Normalize(body, "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "[PDF document: 15 bytes; text extraction not performed]", got)
}

func TestNormalize_JSON(t *testing.T) {
	body := `{"id":"abc","short":"tiny","items":[{"text":"This string is clearly longer than twenty"}],"note":"Another long string value for output"}`
	got, err := Normalize([]byte(body), "application/json")
	require.NoError(t, err)
	assert.Equal(t, "This string is clearly longer than twenty\n\nAnother long string value for output", got)
	assert.NotContains(t, got, "tiny")
}

func TestNormalize_JSONDescriptionWrapper(t *testing.T) {
	got, err := Normalize([]byte(`{"description":"<p>Full <i>text</i></p>"}`), "")
	require.NoError(t, err)
	assert.Equal(t, "Full text", got)
}

func TestNormalize_Plain(t *testing.T) {
	got, err := Normalize([]byte("a\x00b   c\x07\n\n\n\nnext\tline"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "ab c\n\nnext line", got)
}

func TestNormalize_NotFoundAndEmpty(t *testing.T) {
	_, err := Normalize([]byte("  Description Not Found \n"), "text/plain")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = Normalize([]byte("<p>description not found</p>"), "text/html")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := Normalize([]byte("   "), "text/html")
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestNormalize_CapsLength(t *testing.T) {
	n := Normalizer{MaxLength: 20}
	got, err := n.Normalize([]byte(strings.Repeat("word ", 50)), "text/plain")
	require.NoError(t, err)
	assert.Len(t, got, 20)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestTruncateText(t *testing.T) {
	assert.Equal(t, "short", TruncateText("short", 10))
	assert.Equal(t, "abcdefg...", TruncateText("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", TruncateText("abcdef", 2))
	// Never splits a multi-byte rune.
	assert.Equal(t, "é...", TruncateText("éééééé", 6))
}

func TestDetectKind(t *testing.T) {
	tests := []struct {
		body string
		ct   string
		want ContentKind
	}{
		{"<html><body>x</body></html>", "", KindHTML},
		{"%PDF-1.7", "application/octet-stream", KindPDF},
		{`{"a":1}`, "", KindJSON},
		{`{\rtf1 x}`, "", KindRTF},
		{"hello", "", KindPlain},
		{"<p>text</p>", "text/plain", KindHTML},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectKind([]byte(tt.body), tt.ct), tt.body)
	}
}
