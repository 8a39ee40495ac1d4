package core

import (
	"context"

	"github.com/dkeye/Peerchat/internal/domain"
)

type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeSuccess
	NoticeError
)

func (l NoticeLevel) String() string {
	switch l {
	case NoticeSuccess:
		return "success"
	case NoticeError:
		return "error"
	default:
		return "info"
	}
}

// Notifier shows transient notifications to the user.
type Notifier interface {
	Notify(level NoticeLevel, msg string)
}

// ConsentPrompter asks the user whether to accept an inbound call.
type ConsentPrompter interface {
	ConfirmCall(ctx context.Context, remote domain.PeerID) (bool, error)
}
