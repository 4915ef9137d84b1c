package client

import (
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrame() image.Image {
	return image.NewGray(image.Rect(0, 0, 4, 4))
}

func TestBufferCapacityBound(t *testing.T) {
	b := NewFrameBuffer(3)
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Push(testFrame()))
	}
	assert.False(t, b.CanAccept())
	assert.Equal(t, 3, b.Len())

	err := b.Push(testFrame())
	assert.ErrorIs(t, err, ErrBufferFull)
	assert.Equal(t, 3, b.Len())
}

func TestBufferFIFO(t *testing.T) {
	b := NewFrameBuffer(4)
	first := image.NewGray(image.Rect(0, 0, 1, 1))
	second := image.NewGray(image.Rect(0, 0, 2, 2))
	require.NoError(t, b.Push(first))
	require.NoError(t, b.Push(second))

	got, err := b.Pop()
	require.NoError(t, err)
	assert.Same(t, first, got)

	got, err = b.Pop()
	require.NoError(t, err)
	assert.Same(t, second, got)
}

func TestBufferPopBlocksUntilPush(t *testing.T) {
	b := NewFrameBuffer(2)

	done := make(chan error, 1)
	go func() {
		_, err := b.Pop()
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("pop returned on an empty buffer")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, b.Push(testFrame()))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pop did not wake after push")
	}
}

func TestBufferReset(t *testing.T) {
	b := NewFrameBuffer(10)
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Push(testFrame()))
	}
	_, err := b.Pop()
	require.NoError(t, err)

	b.Reset(7)
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, uint64(7), b.Produced())
	assert.Equal(t, uint64(7), b.Consumed())
	assert.True(t, b.CanAccept())
}

func TestBufferEndOfStreamByTotal(t *testing.T) {
	b := NewFrameBuffer(10)
	b.SetTotal(2)
	require.NoError(t, b.Push(testFrame()))
	require.NoError(t, b.Push(testFrame()))

	for i := 0; i < 2; i++ {
		_, err := b.Pop()
		require.NoError(t, err)
	}

	_, err := b.Pop()
	assert.ErrorIs(t, err, ErrEndOfStream)
	assert.True(t, b.Finished())
}

func TestBufferEndOfStreamByMark(t *testing.T) {
	b := NewFrameBuffer(10)

	done := make(chan error, 1)
	go func() {
		_, err := b.Pop()
		done <- err
	}()

	b.MarkEnded()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrEndOfStream)
	case <-time.After(time.Second):
		t.Fatal("pop did not wake after end-of-stream")
	}
}

func TestBufferResetClearsEnded(t *testing.T) {
	b := NewFrameBuffer(10)
	b.SetTotal(100)
	b.MarkEnded()
	b.Reset(10)

	require.NoError(t, b.Push(testFrame()))
	_, err := b.Pop()
	assert.NoError(t, err)
}

func TestBufferCloseUnblocksPop(t *testing.T) {
	b := NewFrameBuffer(2)

	done := make(chan error, 1)
	go func() {
		_, err := b.Pop()
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	b.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrBufferClosed)
	case <-time.After(time.Second):
		t.Fatal("pop did not wake after close")
	}

	assert.ErrorIs(t, b.Push(testFrame()), ErrBufferClosed)
}
