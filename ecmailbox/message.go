package ecmailbox

// ProcessingResult is what a message's process() call tells the owning
// Mailbox to do with it, per spec.md §4.5's receive step.
type ProcessingResult int

const (
	// ResultNoop means this message did not recognize the payload; the
	// Mailbox should offer it to the next candidate on to_process.
	ResultNoop ProcessingResult = iota
	// ResultContinue means more segments are expected; the message moves
	// back onto to_send so its next request can go out.
	ResultContinue
	// ResultFinalize means the message is done (success or a terminal
	// error) and is removed from to_process.
	ResultFinalize
	// ResultFinalizeAndKeep means the message stays on to_process,
	// listening again; no message kind in this package returns it.
	ResultFinalizeAndKeep
)

// message is the tagged-variant interface spec.md §9's "polymorphic
// message base" collapses to: a single process(payload) dispatch, with
// per-kind state living in the concrete type. *sdoTransfer is the only
// implementation; unsolicited CoE emergencies never reach to_process at
// all (Mailbox.receive handles them directly), so they need no message
// implementation of their own.
type message interface {
	// request returns the CoE service bytes (header + body) this message
	// wants sent next. Called each time the message is at the head of
	// to_send.
	request() []byte
	// process inspects a just-received CoE payload (the mailbox header
	// already stripped, the CoE header still attached).
	process(payload []byte) ProcessingResult
	// status reports the message's current (possibly still running)
	// terminal state.
	status() Status
}
