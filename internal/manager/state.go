package manager

// State is the lifecycle position of one connection.
type State int

const (
	Accepted  State = iota // transport handshake done
	Binding                // relay channel built, acquiring the streams
	Running                // application started against the bound streams
	Unbinding              // restoring the streams
	Closed                 // everything released
)

func (s State) String() string {
	switch s {
	case Accepted:
		return "ACCEPTED"
	case Binding:
		return "BINDING"
	case Running:
		return "RUNNING"
	case Unbinding:
		return "UNBINDING"
	case Closed:
		return "CLOSED"
	}
	return "UNKNOWN"
}
