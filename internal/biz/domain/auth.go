package domain

// AuthPhase is the observable phase of an owner's acquisition flow
type AuthPhase int

const (
	PhaseIdle AuthPhase = iota
	PhaseAwaitingPhone
	PhaseAwaitingCode
	PhaseAwaitingPassword
	PhaseSaved
	PhaseAborted
	PhaseAwaitingDeleteChoice
)

func (p AuthPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingPhone:
		return "awaiting_phone"
	case PhaseAwaitingCode:
		return "awaiting_code"
	case PhaseAwaitingPassword:
		return "awaiting_password"
	case PhaseSaved:
		return "saved"
	case PhaseAborted:
		return "aborted"
	case PhaseAwaitingDeleteChoice:
		return "awaiting_delete_choice"
	default:
		return "unknown"
	}
}

// Pending reports whether the phase holds per-owner state
func (p AuthPhase) Pending() bool {
	switch p {
	case PhaseAwaitingPhone, PhaseAwaitingCode, PhaseAwaitingPassword, PhaseAwaitingDeleteChoice:
		return true
	}
	return false
}
