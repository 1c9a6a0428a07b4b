package session

// ClientState is the serializer state of a session's client.
type ClientState int32

const (
	// Unknown: no page has been served yet.
	Unknown ClientState = iota
	// NoJavaScript clients get a full page for every request.
	NoJavaScript
	// Bootstrapping: a page with the runtime was served but the runtime has
	// not reported back yet.
	Bootstrapping
	// Incremental clients receive op scripts.
	Incremental
	// Disconnected is terminal.
	Disconnected
)

func (s ClientState) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case NoJavaScript:
		return "nojs"
	case Bootstrapping:
		return "bootstrapping"
	case Incremental:
		return "incremental"
	case Disconnected:
		return "disconnected"
	default:
		return "invalid"
	}
}

// runtime reports whether the client runs the script runtime.
func (s ClientState) runtime() bool { return s == Bootstrapping || s == Incremental }

// LoopState is where the session's event loop is.
type LoopState int32

const (
	Idle LoopState = iota
	HandlingRequest
	Rendering
)

func (s LoopState) String() string {
	switch s {
	case Idle:
		return "idle"
	case HandlingRequest:
		return "handling"
	case Rendering:
		return "rendering"
	default:
		return "invalid"
	}
}

// RequestKind says how a request reached the session.
type RequestKind uint8

const (
	// PageLoad is a plain document request.
	PageLoad RequestKind = iota
	// FormPost is a form submission from a page without JavaScript.
	FormPost
	// RuntimeEvent is sent by the client runtime.
	RuntimeEvent
)

func (k RequestKind) String() string {
	switch k {
	case PageLoad:
		return "page"
	case FormPost:
		return "form"
	case RuntimeEvent:
		return "runtime"
	default:
		return "invalid"
	}
}

// nextClientState is the serializer state machine.
func nextClientState(cur ClientState, kind RequestKind, javaScript bool) ClientState {
	switch cur {
	case Disconnected, NoJavaScript:
		return cur
	}
	switch kind {
	case FormPost:
		return NoJavaScript
	case PageLoad:
		if !javaScript {
			return NoJavaScript
		}
		return Bootstrapping
	default:
		return Incremental
	}
}
