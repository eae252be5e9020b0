// Package assistant 定义 AI 助教客户端的返回契约：要么是完整文本，要么是片段流，二者显式区分。
package assistant

import (
	"context"
	"strings"

	"studyroomix/internal/domain"
)

// Kind 标识 Reply 的形态
type Kind int

const (
	KindComplete Kind = iota + 1
	KindStream
)

func (k Kind) String() string {
	switch k {
	case KindComplete:
		return "complete"
	case KindStream:
		return "stream"
	}
	return "unknown"
}

// Fragment 是流式回复中的一段。Err 非空时表示流异常结束，之后不会再有片段。
type Fragment struct {
	Text string
	Err  error
}

// Reply is a tagged union: Text is set for KindComplete, Fragments for KindStream.
// A stream's channel is closed by the producer when the answer is finished.
type Reply struct {
	Kind      Kind
	Text      string
	Fragments <-chan Fragment
}

func Complete(text string) Reply { return Reply{Kind: KindComplete, Text: text} }

func Stream(fragments <-chan Fragment) Reply { return Reply{Kind: KindStream, Fragments: fragments} }

// Request 是一次提问
type Request struct {
	Prompt  string
	History []domain.ChatTurn // chronological, oldest first
	Stream  bool
}

// Generator 调用生成式文本服务。
type Generator interface {
	Generate(ctx context.Context, req Request) (Reply, error)
}

// Collect 读完整个回复并返回拼接后的文本。
func Collect(ctx context.Context, r Reply) (string, error) {
	if r.Kind == KindComplete {
		return r.Text, nil
	}
	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			return b.String(), ctx.Err()
		case f, ok := <-r.Fragments:
			if !ok {
				return b.String(), nil
			}
			if f.Err != nil {
				return b.String(), f.Err
			}
			b.WriteString(f.Text)
		}
	}
}
