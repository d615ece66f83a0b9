// Package domain defines the wallet data model shared by the feed, the submitter and the clients.
package domain

// ConnectionStatus state of a live balance subscription.
type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusOnline       ConnectionStatus = "online"
	StatusReconnecting ConnectionStatus = "reconnecting"
	StatusError        ConnectionStatus = "error"
	StatusClosed       ConnectionStatus = "closed"
)

func (s ConnectionStatus) String() string {
	return string(s)
}

// Indicator collapses the status to the three values shown to users:
// online, reconnecting or error.
func (s ConnectionStatus) Indicator() ConnectionStatus {
	switch s {
	case StatusOnline, StatusError:
		return s
	case StatusConnecting, StatusReconnecting:
		return StatusReconnecting
	default:
		return StatusError
	}
}

// IsTerminal reports whether no further transitions can happen without reopening.
func (s ConnectionStatus) IsTerminal() bool {
	return s == StatusError || s == StatusClosed
}
