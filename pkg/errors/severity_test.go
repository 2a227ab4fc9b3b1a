package errors

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopoErrorMessage(t *testing.T) {
	err := NewFetchError("http://example.com/boot.sh", "web", fmt.Errorf("timeout"))
	assert.Equal(t, "[warning] FETCH_FAILED: failed to fetch http://example.com/boot.sh: timeout (resource: web)", err.Error())

	err = NewMissingResourcesError()
	assert.Equal(t, "[fatal] MISSING_RESOURCES: template has no resources section", err.Error())
}

func TestHasCode(t *testing.T) {
	wrapped := fmt.Errorf("build: %w", NewMissingResourcesError())
	assert.True(t, HasCode(wrapped, ErrCodeMissingResources))
	assert.False(t, HasCode(wrapped, ErrCodeParseFailed))
	assert.False(t, HasCode(fmt.Errorf("plain"), ErrCodeParseFailed))
}

func TestSeverityJSON(t *testing.T) {
	out, err := json.Marshal(NewResourceConflictError([]string{"a", "b"}))
	require.NoError(t, err)
	assert.Contains(t, string(out), `"severity":"error"`)
	assert.Contains(t, string(out), "a, b")
}

func TestCollectorAndTee(t *testing.T) {
	c := NewCollector()
	var buf bytes.Buffer
	logSink := LogSink{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	sink := Tee(c, logSink, nil)
	sink.Report(NewSubstitutionError("(", "cfg", fmt.Errorf("missing closing )")))
	c.Report(nil)

	require.Equal(t, 1, c.Len())
	assert.Equal(t, ErrCodeSubstitutionFailed, c.Diagnostics()[0].Code)
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "code=SUBSTITUTION_FAILED")

	Discard.Report(NewMissingResourcesError())
}
