package pinvault

// AuthorizationGate guards backup and restore operations. The host
// application backs it with its biometric or device-credential prompt;
// the core only requires that Authorize returned true before either
// operation proceeds.
type AuthorizationGate interface {
	// Authorize asks the user to approve an operation. The reason is a
	// short human-readable description shown by the host prompt.
	Authorize(reason string) bool
}

// GateFunc adapts a function to the AuthorizationGate interface.
type GateFunc func(reason string) bool

func (f GateFunc) Authorize(reason string) bool { return f(reason) }

// AllowAllGate authorizes every operation. For hosts without a device
// authentication capability, and for tests.
var AllowAllGate AuthorizationGate = GateFunc(func(string) bool { return true })
