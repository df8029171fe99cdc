package domain

// Role defines the sender of a message in the reasoning exchange.
type Role string

const (
	// RoleSystem carries the system instructions.
	RoleSystem Role = "system"
	// RoleUser indicates a message from the user (or an observation fed back).
	RoleUser Role = "user"
	// RoleAssistant indicates a message from the reasoning service.
	RoleAssistant Role = "assistant"
)
