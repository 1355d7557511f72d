package cli

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/corvid-labs/foreman/internal/ferrors"
	"github.com/stretchr/testify/assert"
)

func captureStderr(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	orig := os.Stderr
	os.Stderr = w
	defer func() { os.Stderr = orig }()

	fn()

	w.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	return buf.String()
}

func TestPrintErrorRendersForemanErrorUserMessage(t *testing.T) {
	out := captureStderr(t, func() {
		printError(ferrors.ErrTaskNotFound("t1"))
	})
	assert.Contains(t, out, "Why:")
}

func TestPrintErrorFallsBackForPlainErrors(t *testing.T) {
	out := captureStderr(t, func() {
		printError(errors.New("boom"))
	})
	assert.Equal(t, "Error: boom\n", out)
}

func TestPrintErrorShowsCodeInVerboseMode(t *testing.T) {
	orig := verbose
	verbose = true
	defer func() { verbose = orig }()

	out := captureStderr(t, func() {
		printError(ferrors.ErrTaskNotFound("t1"))
	})
	assert.Contains(t, out, "Code: TASK_NOT_FOUND")
}
