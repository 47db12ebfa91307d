package logging_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"label_pizza/utils/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	level, err := logging.ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	_, err = logging.ParseLevel("loud")
	assert.Error(t, err)
}

func TestInitFansOutToFile(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	console, file := new(bytes.Buffer), new(bytes.Buffer)
	logger := logging.Init(console, logging.Options{
		Format: "text",
		Level:  slog.LevelWarn,
		File:   file,
		Attrs:  []slog.Attr{slog.String("command", "sync")},
	})

	logger.Info("synced collection", "collection", "videos", "code", logging.SYNC)

	assert.Empty(t, console.String())

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(file.Bytes(), &entry))
	assert.Equal(t, "synced collection", entry["_msg"])
	assert.Equal(t, "sync", entry["command"])
	assert.Equal(t, "SYNC", entry["code"])
	assert.Contains(t, entry, "_time")

	logger.Warn("archival declined")
	assert.Contains(t, console.String(), "archival declined")
}
