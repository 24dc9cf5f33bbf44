package correlate

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFailure_ErrorFormat(t *testing.T) {
	f := &Failure{Code: CodeDispatchFailed, Message: "assets.Frozen", Hash: "0x1"}
	assert.Equal(t, "DISPATCH_FAILED: assets.Frozen (tx=0x1)", f.Error())

	r := NewRejected(errors.New("bad nonce"))
	assert.Equal(t, "SUBMISSION_REJECTED: submission rejected: bad nonce", r.Error())
}

func TestFailure_HelpersSeeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("transfer: %w", NewStreamClosed("0x1", nil))
	assert.True(t, IsStreamClosed(wrapped))
	assert.False(t, IsDispatchFailed(wrapped))
	assert.Equal(t, CodeStreamClosed, CodeOf(wrapped))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
}

func TestNewStreamClosed_KeepsCause(t *testing.T) {
	cause := errors.New("socket reset")
	f := NewStreamClosed("0x1", cause)
	assert.Equal(t, "stream closed before confirmation: socket reset", f.Message)
	assert.ErrorIs(t, f, cause)

	assert.Equal(t, "stream closed before confirmation", NewStreamClosed("0x1", nil).Message)
}

func TestNewTimeout(t *testing.T) {
	f := NewTimeout("0x1", 30*time.Second)
	assert.True(t, IsTimeout(f))
	assert.Equal(t, "no terminal status within 30s", f.Message)
	assert.True(t, IsRejected(NewRejected(errors.New("x"))))
}
