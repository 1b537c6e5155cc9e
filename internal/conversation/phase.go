package conversation

type Phase string

const (
	PhaseGreeting     Phase = "GREETING"
	PhaseDiscovery    Phase = "DISCOVERY"
	PhaseBooking      Phase = "BOOKING"
	PhaseConfirmation Phase = "CONFIRMATION"
	PhaseClosing      Phase = "CLOSING"
)

// allowedTransitions is the call phase machine. CONFIRMATION is reachable only from
// BOOKING; CLOSING is reachable from anywhere because any call can end abruptly.
var allowedTransitions = map[Phase][]Phase{
	PhaseGreeting:     {PhaseDiscovery, PhaseBooking, PhaseClosing},
	PhaseDiscovery:    {PhaseDiscovery, PhaseBooking, PhaseClosing},
	PhaseBooking:      {PhaseDiscovery, PhaseConfirmation, PhaseClosing},
	PhaseConfirmation: {PhaseBooking, PhaseClosing},
	PhaseClosing:      {},
}

func (p Phase) Valid() bool {
	_, ok := allowedTransitions[p]
	return ok
}

func (p Phase) CanTransitionTo(next Phase) bool {
	for _, allowed := range allowedTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}
