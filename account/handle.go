package account

// HandleInput is the single entry point an entity calls with an inbound
// AccountInput (spec.md §4.6, C6). A batched envelope carries an ACK
// (PrevHanko) and a chained new frame proposal together; per spec.md §4.6
// the ACK's effects on the real machine are always observed before the new
// frame is validated against the resulting state, so that the chained
// frame's prevFrameHash lines up with the height the ACK just advanced to.
func HandleInput(env Env, m *AccountMachine, msg *AccountInput) (*HandleResult, error) {
	if msg == nil {
		return nil, newErr(ErrAckInvalid, "nil input")
	}

	var events []Event
	var reply *AccountInput

	if len(msg.PrevHanko) > 0 {
		ackResult, err := handleAck(env, m, msg)
		if err != nil {
			return nil, err
		}
		events = append(events, ackResult.Events...)
		reply = ackResult.Reply
	}

	if msg.NewAccountFrame != nil {
		frameResult, err := handleNewFrame(env, m, msg)
		if err != nil {
			return nil, err
		}
		events = append(events, frameResult.Events...)
		reply = frameResult.Reply
	}

	return &HandleResult{Reply: reply, Events: events}, nil
}
