package hsm

import "foreman/internal/model"

// ticketTransitions is the common legality table shared by every ticket
// type. Issue-only statuses are layered on top in issueTransitions.
var ticketTransitions = map[model.TicketStatus]map[model.TicketStatus]bool{
	model.TicketStatusOpen: {
		model.TicketStatusInProgress: true,
		model.TicketStatusCancelled:  true,
	},
	model.TicketStatusInProgress: {
		model.TicketStatusBlocked:   true,
		model.TicketStatusReview:    true,
		model.TicketStatusCancelled: true,
	},
	model.TicketStatusBlocked: {
		model.TicketStatusInProgress: true,
		model.TicketStatusCancelled:  true,
	},
	model.TicketStatusReview: {
		model.TicketStatusInProgress: true,
		model.TicketStatusDone:       true,
		model.TicketStatusCancelled:  true,
	},
}

// issueTransitions adds the qa/deployment sub-flow. An issue's review
// resolves through QA and deployment before it may be done; rejects drop
// back to in_progress.
var issueTransitions = map[model.TicketStatus]map[model.TicketStatus]bool{
	model.TicketStatusReview: {
		model.TicketStatusInProgress: true,
		model.TicketStatusReadyForQA: true,
		model.TicketStatusCancelled:  true,
	},
	model.TicketStatusReadyForQA: {
		model.TicketStatusReadyForDeployment: true,
		model.TicketStatusInProgress:         true,
		model.TicketStatusCancelled:          true,
	},
	model.TicketStatusReadyForDeployment: {
		model.TicketStatusDone:       true,
		model.TicketStatusInProgress: true,
		model.TicketStatusCancelled:  true,
	},
}

// eventTransitions maps (status, event) -> next status. Legality of the
// result is still checked against the transition tables above.
var eventTransitions = map[model.TicketStatus]map[model.TicketEvent]model.TicketStatus{
	model.TicketStatusOpen: {
		model.TicketEventStart:  model.TicketStatusInProgress,
		model.TicketEventCancel: model.TicketStatusCancelled,
	},
	model.TicketStatusInProgress: {
		model.TicketEventBlock:  model.TicketStatusBlocked,
		model.TicketEventReview: model.TicketStatusReview,
		model.TicketEventCancel: model.TicketStatusCancelled,
	},
	model.TicketStatusBlocked: {
		model.TicketEventUnblock: model.TicketStatusInProgress,
		model.TicketEventCancel:  model.TicketStatusCancelled,
	},
	model.TicketStatusReview: {
		model.TicketEventReject: model.TicketStatusInProgress,
		model.TicketEventQA:     model.TicketStatusReadyForQA,
		model.TicketEventDone:   model.TicketStatusDone,
		model.TicketEventCancel: model.TicketStatusCancelled,
	},
	model.TicketStatusReadyForQA: {
		model.TicketEventDeploy: model.TicketStatusReadyForDeployment,
		model.TicketEventReject: model.TicketStatusInProgress,
		model.TicketEventCancel: model.TicketStatusCancelled,
	},
	model.TicketStatusReadyForDeployment: {
		model.TicketEventDone:   model.TicketStatusDone,
		model.TicketEventReject: model.TicketStatusInProgress,
		model.TicketEventCancel: model.TicketStatusCancelled,
	},
}

func CanTransitionTicket(ticketType model.TicketType, from model.TicketStatus, to model.TicketStatus) bool {
	if from == to {
		return true
	}
	if ticketType == model.TicketTypeIssue {
		if targets, ok := issueTransitions[from]; ok {
			return targets[to]
		}
	} else {
		// qa/deployment statuses exist only for issues
		switch from {
		case model.TicketStatusReadyForQA, model.TicketStatusReadyForDeployment:
			return false
		}
		switch to {
		case model.TicketStatusReadyForQA, model.TicketStatusReadyForDeployment:
			return false
		}
	}
	return ticketTransitions[from][to]
}

// ApplyEvent resolves an event verb against the current status. The second
// return is false when the event has no meaning in the current status or
// the resulting transition is illegal for the ticket type.
func ApplyEvent(ticketType model.TicketType, from model.TicketStatus, event model.TicketEvent) (model.TicketStatus, bool) {
	targets, ok := eventTransitions[from]
	if !ok {
		return from, false
	}
	to, ok := targets[event]
	if !ok {
		return from, false
	}
	if !CanTransitionTicket(ticketType, from, to) {
		return from, false
	}
	return to, true
}

// EventFor returns the verb that produces the given transition, for
// rendering committed transitions as external CLI invocations. Returns
// false for transitions no single event produces.
func EventFor(from model.TicketStatus, to model.TicketStatus) (model.TicketEvent, bool) {
	targets, ok := eventTransitions[from]
	if !ok {
		return "", false
	}
	for event, status := range targets {
		if status == to {
			return event, true
		}
	}
	return "", false
}

// Gated reports whether a transition into the target status must pass the
// quality gate before it commits.
func Gated(to model.TicketStatus) bool {
	return to == model.TicketStatusDone || to == model.TicketStatusReadyForDeployment
}
