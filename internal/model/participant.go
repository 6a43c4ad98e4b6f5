package model

// Participant is one member of a conversation with independent read state.
type Participant struct {
	ID          string   `json:"_id,omitempty"`
	AppUserID   string   `json:"appUserId,omitempty"`
	UnreadCount int      `json:"unreadCount"`
	LastRead    *float64 `json:"lastRead,omitempty"`
}

// Equals compares all fields, including read state. The freshness check in
// the conversation manager depends on read-state differences making two
// snapshots unequal.
func (p *Participant) Equals(o *Participant) bool {
	if o == nil {
		return false
	}
	if p.ID != o.ID || p.AppUserID != o.AppUserID || p.UnreadCount != o.UnreadCount {
		return false
	}
	if (p.LastRead == nil) != (o.LastRead == nil) {
		return false
	}
	return p.LastRead == nil || *p.LastRead == *o.LastRead
}

// ParticipantsEqual reports element-wise equality of two participant sets.
func ParticipantsEqual(a, b []*Participant) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equals(b[i]) {
			return false
		}
	}
	return true
}

// CloneParticipants deep-copies a participant slice.
func CloneParticipants(ps []*Participant) []*Participant {
	if ps == nil {
		return nil
	}
	out := make([]*Participant, len(ps))
	for i, p := range ps {
		c := *p
		if p.LastRead != nil {
			v := *p.LastRead
			c.LastRead = &v
		}
		out[i] = &c
	}
	return out
}
