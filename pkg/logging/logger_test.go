package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithOutputJSON(t *testing.T) {
	var buf bytes.Buffer
	InitWithOutput(&buf, "debug", true)
	t.Cleanup(func() { InitWithOutput(&bytes.Buffer{}, "info", false) })

	logrus.WithFields(logrus.Fields{"share_code": "abc"}).Debug("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "abc", entry["share_code"])
	assert.Equal(t, "debug", entry["level"])
}

func TestInitWithOutputUnknownLevel(t *testing.T) {
	var buf bytes.Buffer
	InitWithOutput(&buf, "loud", false)
	t.Cleanup(func() { InitWithOutput(&bytes.Buffer{}, "info", false) })

	assert.Equal(t, logrus.InfoLevel, logrus.GetLevel())
	logrus.Debug("hidden")
	assert.Empty(t, buf.String())
}
