package service

import (
	"fmt"
	"time"
)

// OutcomeKind classifies what one Dispatch call did with a notification.
type OutcomeKind int

const (
	// OutcomeSkipped means the notification was not claimed; nothing was written.
	OutcomeSkipped OutcomeKind = iota
	OutcomeSent
	// OutcomeRetryAfter means the attempt failed and another one is eligible after Delay.
	OutcomeRetryAfter
	// OutcomeDeferred means preferences suppressed the send until Until; no attempt was recorded.
	OutcomeDeferred
	OutcomeTerminalFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeSent:
		return "sent"
	case OutcomeRetryAfter:
		return "retry"
	case OutcomeDeferred:
		return "deferred"
	case OutcomeTerminalFailure:
		return "terminal"
	}
	return fmt.Sprintf("outcome(%d)", int(k))
}

// Outcome is the result of a dispatch. Only the field matching Kind is set.
type Outcome struct {
	Kind  OutcomeKind
	Delay time.Duration
	Until time.Time
	Code  string
}

func Skipped() Outcome { return Outcome{Kind: OutcomeSkipped} }

func Sent() Outcome { return Outcome{Kind: OutcomeSent} }

func RetryAfter(delay time.Duration) Outcome {
	return Outcome{Kind: OutcomeRetryAfter, Delay: delay}
}

func Deferred(until time.Time) Outcome {
	return Outcome{Kind: OutcomeDeferred, Until: until}
}

func TerminalFailure(code string) Outcome {
	return Outcome{Kind: OutcomeTerminalFailure, Code: code}
}
