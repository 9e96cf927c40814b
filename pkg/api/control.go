package api

import "fmt"

// ContainerAction is a lifecycle operation accepted by the control surface
type ContainerAction string

const (
	ActionStart   ContainerAction = "start"
	ActionStop    ContainerAction = "stop"
	ActionRestart ContainerAction = "restart"
)

// ParseContainerAction validates a raw action string
func ParseContainerAction(s string) (ContainerAction, error) {
	switch a := ContainerAction(s); a {
	case ActionStart, ActionStop, ActionRestart:
		return a, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// PastTense returns the form used in success messages ("started", "stopped", "restarted")
func (a ContainerAction) PastTense() string {
	switch a {
	case ActionStop:
		return "stopped"
	default:
		return string(a) + "ed"
	}
}

// ContainerActionRequest is the body of POST /api/container_action.
// Hostname is accepted for controller compatibility and otherwise ignored.
type ContainerActionRequest struct {
	Hostname      string `json:"hostname"`
	ContainerName string `json:"container_name"`
	Action        string `json:"action"`
}

// ComposeExecuteRequest is the body of POST /api/compose_execute
type ComposeExecuteRequest struct {
	Hostname string `json:"hostname"`
	Compose  string `json:"compose"`
}

// ControlResponse is returned by every control endpoint; exactly one field is set
type ControlResponse struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
