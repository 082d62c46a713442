package siyuan

import (
	"context"
	"time"

	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/logger"
)

const (
	notifyTimeout  = 3 * time.Second
	messageTimeout = 7000
)

// Notifier 把通知推送到思源界面。推送在后台进行，失败只记录日志。
type Notifier struct {
	client *Client
}

func NewNotifier(client *Client) *Notifier {
	return &Notifier{client: client}
}

func (n *Notifier) Notify(msg string) {
	go n.push(msg, n.client.PushMsg)
}

func (n *Notifier) NotifyError(msg string) {
	go n.push(msg, n.client.PushErrMsg)
}

func (n *Notifier) push(msg string, send func(context.Context, string, int) error) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := send(ctx, msg, messageTimeout); err != nil {
		logger.Warn("推送思源通知失败", "error", err)
	}
}
