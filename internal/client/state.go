package client

import "fmt"

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateError:
		return "Error"
	default:
		return "InvalidState"
	}
}

func (s State) validateTransitionTo(next State) error {
	switch s {
	case StateDisconnected:
		switch next {
		case StateConnecting, StateDisconnected:
			return nil
		}
	case StateConnecting:
		switch next {
		case StateConnected, StateError, StateDisconnected:
			return nil
		}
	case StateConnected:
		switch next {
		case StateDisconnected, StateError:
			return nil
		}
	case StateError:
		switch next {
		case StateConnecting, StateDisconnected:
			return nil
		}
	}
	return fmt.Errorf("invalid state transition from %v to %v", s, next)
}
