package provider

import (
	"context"
	"strings"

	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/logger"
)

const eventBuffer = 16

// emitter 负责按约定发送事件：记录已发送的文本，保证只发一次结束事件并关闭通道。
type emitter struct {
	ctx  context.Context
	out  chan Event
	text strings.Builder
	done bool
}

func newEmitter(ctx context.Context) *emitter {
	return &emitter{ctx: ctx, out: make(chan Event, eventBuffer)}
}

// chunk 发送一段文本。ctx 已取消时返回 false。
func (e *emitter) chunk(text string) bool {
	if e.done {
		return false
	}
	if text == "" {
		return e.ctx.Err() == nil
	}
	select {
	case e.out <- Event{Kind: EventChunk, Text: text}:
		e.text.WriteString(text)
		return true
	case <-e.ctx.Done():
		return false
	}
}

func (e *emitter) complete() {
	e.finish(Event{Kind: EventComplete, Text: e.text.String()})
}

func (e *emitter) fail(err error) {
	if ctxErr := e.ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	e.finish(Event{Kind: EventError, Err: err})
}

// finish 发送结束事件并关闭通道。接收方已经离开时不阻塞。
func (e *emitter) finish(ev Event) {
	if e.done {
		return
	}
	e.done = true
	defer close(e.out)
	select {
	case e.out <- ev:
	case <-e.ctx.Done():
		select {
		case e.out <- ev:
		default:
			logger.Debug("接收方已离开，丢弃结束事件", "kind", ev.Kind.String())
		}
	}
}

// sent 返回已发送的全部文本
func (e *emitter) sent() string {
	return e.text.String()
}

// Collect 读完一个流，返回所有分片和结束事件。测试和命令行使用。
func Collect(events <-chan Event) (chunks []string, terminal Event) {
	terminal = Event{Kind: EventError, Err: ErrNoTerminalEvent}
	for ev := range events {
		if ev.Terminal() {
			terminal = ev
			continue
		}
		chunks = append(chunks, ev.Text)
	}
	return chunks, terminal
}
