package agentloop

import "strings"

// VerificationState tracks how far a run is through the completion
// handshake.
type VerificationState string

const (
	StateWorking              VerificationState = "working"
	StateAwaitingVerification VerificationState = "awaiting_verification"
	StateAwaitingConfirmation VerificationState = "awaiting_confirmation"
	StateComplete             VerificationState = "complete"
)

// Decision is the verifier's answer to a turn without tool calls. When Done
// is false, Prompt is the user message to append before the next turn.
type Decision struct {
	From   VerificationState
	State  VerificationState
	Prompt string
	Done   bool
}

// Verifier is the completion handshake. The model's first claim of
// completion triggers a self-verification prompt, its verification report
// triggers a confirmation prompt, and only an affirmation of that report
// ends the run. Any tool activity sends the handshake back to the start.
type Verifier struct {
	instruction string
	enabled     bool
	state       VerificationState
	lastResult  string
	rounds      int
}

// NewVerifier returns a verifier for instruction. When enabled is false the
// first turn without tool calls completes the run.
func NewVerifier(instruction string, enabled bool) *Verifier {
	return &Verifier{instruction: instruction, enabled: enabled, state: StateWorking}
}

// State returns the current state.
func (v *Verifier) State() VerificationState { return v.state }

// Rounds counts verification prompts issued so far.
func (v *Verifier) Rounds() int { return v.rounds }

// ToolActivity records that the model used tools, which resets the
// handshake unless the run has already completed.
func (v *Verifier) ToolActivity() {
	if v.state != StateComplete {
		v.state = StateWorking
	}
}

// Advance consumes the text of an assistant turn that made no tool calls.
func (v *Verifier) Advance(text string) Decision {
	d := Decision{From: v.state}
	switch v.state {
	case StateWorking:
		if !v.enabled {
			v.state = StateComplete
			break
		}
		v.state = StateAwaitingVerification
		v.rounds++
		d.Prompt = formatVerificationPrompt(v.instruction)
	case StateAwaitingVerification:
		v.lastResult = text
		v.state = StateAwaitingConfirmation
		d.Prompt = formatConfirmationPrompt(v.instruction, text)
	case StateAwaitingConfirmation:
		if strings.Contains(strings.ToLower(text), incompletePhrase) {
			v.state = StateWorking
			d.Prompt = incompleteFollowUp
			break
		}
		v.state = StateComplete
	case StateComplete:
	}
	d.State = v.state
	d.Done = v.state == StateComplete
	return d
}
