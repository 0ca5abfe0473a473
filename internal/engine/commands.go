package engine

// Command is one of the slash commands the engine understands. The set is
// closed: only the types in this file implement it.
type Command interface {
	command() string
}

// Invite binds a persona to the channel.
type Invite struct {
	PersonaID string
}

// Uninvite removes the channel's persona and its reply identity.
type Uninvite struct{}

// List shows a page of the catalog starting at index Page.
type List struct {
	Page int
}

// Fence posts the fence marker.
type Fence struct{}

func (Invite) command() string   { return "invite" }
func (Uninvite) command() string { return "uninvite" }
func (List) command() string     { return "list" }
func (Fence) command() string    { return "fence" }

// Name returns the slash command name of c.
func Name(c Command) string {
	return c.command()
}

// Field is a titled entry of a reply card.
type Field struct {
	Name  string
	Value string
}

// Reply is the user-visible answer to a command. Content is plain text;
// the remaining fields describe an optional card.
type Reply struct {
	Content     string
	Title       string
	Description string
	ImageURL    string
	Fields      []Field

	// Followup, when set, must run after the reply has been sent.
	Followup func() error
}
