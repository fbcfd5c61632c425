package engine

import "github.com/mauzec/taskpulse/internal/core"

type NoticeKind int

const (
	NoticeAddFailed NoticeKind = iota
	NoticeUpdateFailed
	NoticeToggleFailed
	NoticeDeleteFailed
	NoticeListenerFailed
)

// Notice is a dismissible message about something that went wrong after
// the caller already got control back.
type Notice struct {
	Kind   NoticeKind
	TaskID string
	// Text is the input of a failed Add so the caller can offer it again.
	Text string
	Err  error
}

func (n Notice) Code() core.ErrorCode {
	return core.CodeOf(n.Err)
}

func (n Notice) Message() string {
	switch n.Kind {
	case NoticeAddFailed:
		return "Task could not be added. Try again."
	case NoticeUpdateFailed:
		return "Task could not be updated. Changes were undone."
	case NoticeToggleFailed:
		return "Task could not be updated. Changes were undone."
	case NoticeDeleteFailed:
		return "Task could not be deleted. It was restored."
	case NoticeListenerFailed:
		return "Lost connection to your tasks. Showing the last known list."
	}
	return "Something went wrong."
}

func noticeKindFor(k Kind) NoticeKind {
	switch k {
	case KindAdd:
		return NoticeAddFailed
	case KindUpdate:
		return NoticeUpdateFailed
	case KindToggleComplete:
		return NoticeToggleFailed
	default:
		return NoticeDeleteFailed
	}
}
