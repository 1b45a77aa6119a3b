package protocol

import "sort"

// Classifier decides whether an inbound command is a server push
// notification rather than the reply to a pending request.
type Classifier interface {
	IsUnsolicited(cmd Command) bool
}

// CommandSet is a Classifier backed by a set of command codes
type CommandSet map[Command]struct{}

// NewCommandSet builds a set from the given commands
func NewCommandSet(cmds ...Command) CommandSet {
	s := make(CommandSet, len(cmds))
	for _, c := range cmds {
		s[c] = struct{}{}
	}
	return s
}

// IsUnsolicited implements Classifier
func (s CommandSet) IsUnsolicited(cmd Command) bool {
	_, ok := s[cmd]
	return ok
}

// Commands returns the members in ascending order
func (s CommandSet) Commands() []Command {
	out := make([]Command, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DefaultUnsolicited lists the commands a server pushes without being asked:
// job progress and results for clients, and the wake-up NOOP for sleeping
// workers.
func DefaultUnsolicited() CommandSet {
	return NewCommandSet(
		Noop,
		WorkStatus,
		WorkComplete,
		WorkFail,
		WorkException,
		WorkData,
		WorkWarning,
	)
}

// ClassifierFunc adapts a plain function to Classifier
type ClassifierFunc func(cmd Command) bool

// IsUnsolicited implements Classifier
func (f ClassifierFunc) IsUnsolicited(cmd Command) bool { return f(cmd) }

// expectedReplies maps request commands to the replies a server may send.
// ERROR is accepted for every request.
var expectedReplies = map[Command][]Command{
	EchoReq:         {EchoRes},
	SubmitJob:       {JobCreated},
	SubmitJobBG:     {JobCreated},
	SubmitJobHigh:   {JobCreated},
	SubmitJobHighBG: {JobCreated},
	SubmitJobLow:    {JobCreated},
	SubmitJobLowBG:  {JobCreated},
	SubmitJobSched:  {JobCreated},
	SubmitJobEpoch:  {JobCreated},
	GetStatus:       {StatusRes},
	GrabJob:         {JobAssign, NoJob},
	GrabJobUniq:     {JobAssignUniq, NoJob},
	OptionReq:       {OptionRes},
}

// IsExpectedReply reports whether reply is a plausible answer to req.
// Requests missing from the table accept any reply. Correlation itself is
// strictly first-in first-out; this check only surfaces mismatches.
func IsExpectedReply(req, reply Command) bool {
	if reply == Error {
		return true
	}
	want, ok := expectedReplies[req]
	if !ok {
		return true
	}
	for _, c := range want {
		if c == reply {
			return true
		}
	}
	return false
}
