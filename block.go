package shelfie

// BlockState is the viewer's send eligibility in one conversation.
type BlockState struct {
	ByMe    bool
	ByOther bool
}

// CanSend reports whether sending and attaching are allowed.
func (b BlockState) CanSend() bool {
	return !b.ByMe && !b.ByOther
}

// Reason is the text shown in place of the composer when sending is
// disabled.
func (b BlockState) Reason() string {
	switch {
	case b.ByMe:
		return "You blocked this conversation"
	case b.ByOther:
		return "You can't reply to this conversation"
	}
	return ""
}

// ResolveBlock computes the block state of c for viewerID.
func ResolveBlock(c *Conversation, viewerID string) BlockState {
	if c == nil {
		return BlockState{}
	}
	var st BlockState
	other := OtherMember(c, viewerID)
	for _, id := range c.BlockedBy {
		if id == viewerID {
			st.ByMe = true
		}
		if other != nil && id == other.ID {
			st.ByOther = true
		}
	}
	return st
}
