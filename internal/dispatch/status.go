package dispatch

import "github.com/zulandar/lifeline/internal/models"

// ValidTransitions maps each dispatch status to the statuses it may move to.
// Repeating the current status is always allowed and changes nothing.
var ValidTransitions = map[string][]string{
	models.DispatchPending: {models.DispatchEnRoute, models.DispatchCancelled},
	models.DispatchEnRoute: {models.DispatchArrived, models.DispatchCancelled},
	models.DispatchArrived: {models.DispatchCompleted},
}

// IsStatus reports whether s is a known dispatch status.
func IsStatus(s string) bool {
	switch s {
	case models.DispatchPending, models.DispatchEnRoute, models.DispatchArrived,
		models.DispatchCompleted, models.DispatchCancelled:
		return true
	}
	return false
}

func isValidTransition(from, to string) bool {
	if from == to {
		return true
	}
	for _, v := range ValidTransitions[from] {
		if v == to {
			return true
		}
	}
	return false
}

// responderStatusFor is the status a responder takes when its dispatch
// enters the given status.
var responderStatusFor = map[string]string{
	models.DispatchPending:   models.ResponderDispatched,
	models.DispatchEnRoute:   models.ResponderOnRoute,
	models.DispatchArrived:   models.ResponderOnScene,
	models.DispatchCompleted: models.ResponderAvailable,
	models.DispatchCancelled: models.ResponderAvailable,
}
