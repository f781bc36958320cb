package chat

// Greeter selects the message sent to the upstream when a session is
// initialized. The two production variants differ only here: the standard
// registry opens with a plain greeting, the persona registry opens with a
// configurable role preamble and tags its sessions.
type Greeter interface {
	// Greeting returns the session-opening message.
	Greeting() string

	// Persona reports whether sessions opened with this greeter carry the
	// persona flag.
	Persona() bool
}

// StandardGreeter opens sessions with a fixed plain greeting.
type StandardGreeter struct {
	Text string
}

// NewStandardGreeter creates the default greeter.
func NewStandardGreeter() StandardGreeter {
	return StandardGreeter{Text: "hai"}
}

func (g StandardGreeter) Greeting() string {
	if g.Text == "" {
		return "hai"
	}
	return g.Text
}

func (g StandardGreeter) Persona() bool { return false }

// PersonaGreeter opens sessions with a role preamble so every later message
// is answered in that voice. Sessions it opens are flagged.
type PersonaGreeter struct {
	Preamble string
}

func (g PersonaGreeter) Greeting() string { return g.Preamble }

func (g PersonaGreeter) Persona() bool { return true }
