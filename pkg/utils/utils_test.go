package utils

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	type sample struct {
		A string `json:"a"`
		B []int  `json:"b"`
	}

	enc, err := Encode(sample{A: "x", B: []int{1, 2}})
	require.NoError(t, err)

	out, err := Decode[sample](enc)
	require.NoError(t, err)
	assert.Equal(t, "x", out.A)
	assert.Equal(t, []int{1, 2}, out.B)

	_, err = Decode[sample]("")
	assert.Error(t, err)
	_, err = Decode[sample]("not base64!")
	assert.Error(t, err)
}

func TestGenerateShareCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := GenerateShareCode()
		require.NoError(t, err)
		assert.Len(t, code, 12)
		assert.Equal(t, code, SanitizeCode(code))
		assert.False(t, seen[code])
		seen[code] = true
	}
}

func TestSanitizeTopic(t *testing.T) {
	assert.Equal(t, "ab-cd", SanitizeTopic(" Ab_C/d\n"))
	assert.Equal(t, "abc", SanitizeTopic("a+b=c"))
}

func TestTopicForCode(t *testing.T) {
	topic := TopicForCode("packshare", "Ab_Cd")
	assert.True(t, strings.HasPrefix(topic, "packshare-"))
	assert.Len(t, topic, len("packshare-")+32)
	assert.Equal(t, topic, TopicForCode("packshare", " ab-cd "))
	assert.NotContains(t, topic, "ab-cd")
	assert.NotEqual(t, topic, TopicForCode("packshare", "other"))
}

func TestSafeJoin(t *testing.T) {
	base := t.TempDir()

	p, err := SafeJoin(base, "dir/file.pak")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "dir", "file.pak"), p)

	for _, bad := range []string{"", "..", "../x", "a/../../x", "/etc/passwd", "."} {
		_, err := SafeJoin(base, bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatFileSize(t *testing.T) {
	assert.Equal(t, "512 B", FormatFileSize(512))
	assert.Equal(t, "1.0 KB", FormatFileSize(1024))
	assert.Equal(t, "1.5 MB", FormatFileSize(1536*1024))
}
