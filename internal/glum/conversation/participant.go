package conversation

// UnknownSpeaker names authors missing from a thread's directory.
const UnknownSpeaker = "Unknown"

// Participant is a snapshot of a thread member taken when the conversation
// was created.
type Participant struct {
	ID        string
	Name      string
	Nickname  string
	IsContact bool
}

// FullName is "nickname (name)", or the name alone when there is no
// nickname.
func (p Participant) FullName() string {
	switch {
	case p.Nickname != "" && p.Name != "" && p.Nickname != p.Name:
		return p.Nickname + " (" + p.Name + ")"
	case p.Name != "":
		return p.Name
	case p.Nickname != "":
		return p.Nickname
	default:
		return UnknownSpeaker
	}
}

// Directory maps participant ids to participants.
type Directory map[string]Participant

// NameOf returns the full name of id, or UnknownSpeaker.
func (d Directory) NameOf(id string) string {
	p, ok := d[id]
	if !ok {
		return UnknownSpeaker
	}
	return p.FullName()
}
