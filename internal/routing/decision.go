package routing

// Decision is the provider-agnostic outcome of routing an inbound call.
// It carries only what the control response builder needs.
type Decision struct {
	OrganizationID string `json:"organization_id"`

	Action    Action `json:"action"`
	ConnectTo string `json:"connect_to,omitempty"`

	// Reason is for logs and metrics only.
	Reason string `json:"reason,omitempty"`
}

type Action string

const (
	ActionReject  Action = "reject"
	ActionConnect Action = "connect"
)
