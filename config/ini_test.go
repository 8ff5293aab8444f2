package config

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseINISkipsCommentsAndBlankLines(t *testing.T) {
	src := `
; a comment
# another comment

[stream.front-door]
url = rtsp://cam/front
enabled = true
`
	doc, err := parseINI(strings.NewReader(src))
	require.NoError(t, err)

	sec := doc.section("stream.front-door")
	assert.Equal(t, "rtsp://cam/front", sec.get("url", ""))
	assert.Equal(t, "true", sec.get("enabled", ""))
}

func TestParseINIMalformedSectionHeader(t *testing.T) {
	_, err := parseINI(strings.NewReader("[stream.front-door\nurl = rtsp://cam/front\n"))
	assert.Error(t, err)
}

func TestParseINIMalformedLine(t *testing.T) {
	_, err := parseINI(strings.NewReader("[stream.front-door]\nnotakeyvalue\n"))
	assert.Error(t, err)
}

func TestWritePreservesInsertionOrder(t *testing.T) {
	doc := newIniDocument()
	doc.section("stream.b").set("url", "rtsp://cam/b")
	doc.section("stream.a").set("url", "rtsp://cam/a")

	var buf bytes.Buffer
	require.NoError(t, doc.write(&buf))

	out := buf.String()
	assert.Less(t, strings.Index(out, "stream.b"), strings.Index(out, "stream.a"))
}
