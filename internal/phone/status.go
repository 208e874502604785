package phone

// ConnectionStatus is the registration state of the SIP session.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConfiguring
	StatusConnecting
	StatusRegistered
	StatusUnregistered
	StatusError
)

var statusNames = []string{
	"Disconnected", "Configuring", "Connecting", "Registered", "Unregistered", "Error",
}

func (s ConnectionStatus) String() string {
	if int(s) >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "Unknown"
}

// ParseConnectionStatus is the inverse of String.
func ParseConnectionStatus(name string) (ConnectionStatus, bool) {
	for i, n := range statusNames {
		if n == name {
			return ConnectionStatus(i), true
		}
	}
	return StatusDisconnected, false
}

// Severity groups statuses for display colouring.
type Severity string

const (
	SeverityIdle    Severity = "idle"
	SeverityPending Severity = "pending"
	SeverityOK      Severity = "ok"
	SeverityError   Severity = "error"
)

func (s ConnectionStatus) Severity() Severity {
	switch s {
	case StatusRegistered:
		return SeverityOK
	case StatusConfiguring, StatusConnecting:
		return SeverityPending
	case StatusError:
		return SeverityError
	default:
		return SeverityIdle
	}
}
