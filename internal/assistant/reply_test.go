package assistant_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyroomix/internal/assistant"
)

func TestCollectComplete(t *testing.T) {
	text, err := assistant.Collect(context.Background(), assistant.Complete("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

func TestCollectStream(t *testing.T) {
	ch := make(chan assistant.Fragment, 3)
	ch <- assistant.Fragment{Text: "a"}
	ch <- assistant.Fragment{Text: "b"}
	close(ch)

	r := assistant.Stream(ch)
	assert.Equal(t, assistant.KindStream, r.Kind)
	text, err := assistant.Collect(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, "ab", text)
}

func TestCollectStreamError(t *testing.T) {
	boom := errors.New("boom")
	ch := make(chan assistant.Fragment, 2)
	ch <- assistant.Fragment{Text: "partial"}
	ch <- assistant.Fragment{Err: boom}
	close(ch)

	text, err := assistant.Collect(context.Background(), assistant.Stream(ch))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "partial", text)
}
