package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestNew_ParsesLevel(t *testing.T) {
	req := require.New(t)

	req.Equal(logrus.DebugLevel, New("debug", "text").GetLevel())
	req.Equal(logrus.WarnLevel, New("WARN", "text").GetLevel())
	req.Equal(logrus.InfoLevel, New("nonsense", "text").GetLevel())
}

func TestNewWithOutput_JSONFormat(t *testing.T) {
	req := require.New(t)
	var buf bytes.Buffer

	log := NewWithOutput(&buf, "info", "json")
	log.WithField("chat_id", 7).Info("client connected")

	var entry map[string]any
	req.NoError(json.Unmarshal(buf.Bytes(), &entry))
	req.Equal("client connected", entry["msg"])
	req.EqualValues(7, entry["chat_id"])
}

func TestDiscard(t *testing.T) {
	log := Discard()
	log.Info("nothing to see")
}
