package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream_SendAndFinish(t *testing.T) {
	s := NewStream[int](2, nil)

	require.True(t, s.Send(1))
	require.True(t, s.Send(2))
	boom := errors.New("boom")
	s.Finish(boom)

	var got []int
	for v := range s.C() {
		got = append(got, v)
	}
	assert.Equal(t, []int{1, 2}, got)
	assert.Equal(t, boom, s.Err())
	assert.False(t, s.Send(3), "send after finish must report false")
}

func TestStream_FinishUnblocksSender(t *testing.T) {
	s := NewStream[int](0, nil)

	result := make(chan bool)
	go func() { result <- s.Send(1) }()

	time.Sleep(10 * time.Millisecond)
	s.Finish(nil)

	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Send stayed blocked after Finish")
	}
}

func TestStream_CloseRunsHookOnce(t *testing.T) {
	calls := 0
	s := NewStream[int](1, func() { calls++ })

	s.Close()
	s.Close()

	assert.Equal(t, 1, calls)
	assert.NoError(t, s.Err())
	_, open := <-s.C()
	assert.False(t, open)
}

func TestStream_FirstFinishWins(t *testing.T) {
	s := NewStream[int](0, nil)
	first := errors.New("first")
	s.Finish(first)
	s.Finish(errors.New("second"))
	s.Close()
	assert.Equal(t, first, s.Err())
}

func TestTxStream_Hash(t *testing.T) {
	tx := NewTxStream("0xabc", 1, nil)
	assert.Equal(t, "0xabc", tx.Hash())
	require.True(t, tx.Send(Notification{Status: StatusReady}))
	n := <-tx.C()
	assert.Equal(t, StatusReady, n.Status)
}
