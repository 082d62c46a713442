package chat

import (
	"sync"
	"time"
)

// Change 说明快照是由哪种状态变化产生的
type Change string

const (
	ChangeSettings  Change = "settings.updated"
	ChangeDraft     Change = "draft.updated"
	ChangeSent      Change = "message.added"
	ChangeCleared   Change = "message.cleared"
	ChangeChunk     Change = "stream.chunk"
	ChangeComplete  Change = "stream.finished"
	ChangeError     Change = "stream.error"
	ChangeCancelled Change = "stream.cancelled"
)

// Snapshot 是某次状态变化之后会话的只读副本
type Snapshot struct {
	Change        Change
	Timestamp     time.Time
	History       []Message
	Draft         string
	Buffer        string
	Loading       bool
	TurnID        string
	SystemPrompt  string
	HistoryTokens int
	DraftTokens   int
}

// Conversation 返回不含系统消息的历史
func (s Snapshot) Conversation() []Message {
	return Conversation(s.History)
}

// Observer 在每次状态变化后收到快照。回调在发生变化的 goroutine 上同步执行，
// 不持有会话锁，可以调用会话的只读方法。
type Observer func(Snapshot)

type observers struct {
	mu     sync.RWMutex
	nextID int
	byID   map[int]Observer
	order  []int
}

func (o *observers) subscribe(fn Observer) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.byID == nil {
		o.byID = make(map[int]Observer)
	}
	id := o.nextID
	o.nextID++
	o.byID[id] = fn
	o.order = append(o.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { o.unsubscribe(id) })
	}
}

func (o *observers) unsubscribe(id int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.byID, id)
	for i, v := range o.order {
		if v == id {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
}

func (o *observers) publish(snap Snapshot) {
	o.mu.RLock()
	fns := make([]Observer, 0, len(o.order))
	for _, id := range o.order {
		fns = append(fns, o.byID[id])
	}
	o.mu.RUnlock()

	for _, fn := range fns {
		fn(snap)
	}
}
