package appointment

import "github.com/medisched/scheduling/internal/notification"

// transitions is the full legal-transition table. Pending is the initial
// state; cancelled and completed are terminal.
var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusConfirmed: true,
		StatusCancelled: true,
	},
	StatusConfirmed: {
		StatusCancelled: true,
		StatusCompleted: true,
	},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// transitionEvent maps a target status to the notification event its
// transition emits.
func transitionEvent(to Status) notification.Event {
	switch to {
	case StatusConfirmed:
		return notification.EventConfirmed
	case StatusCancelled:
		return notification.EventCancelled
	case StatusCompleted:
		return notification.EventCompleted
	default:
		return ""
	}
}
