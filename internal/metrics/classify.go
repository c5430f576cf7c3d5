package metrics

import "github.com/taskora/taskora-backend/internal/shared"

// Kind classifies a two-party message for response tracking.
type Kind int

const (
	// KindIgnore covers client-client and provider-provider traffic, which is
	// never tracked.
	KindIgnore Kind = iota
	// KindInitial is a client messaging a provider.
	KindInitial
	// KindResponse is a provider messaging a client.
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindInitial:
		return "initial"
	case KindResponse:
		return "response"
	default:
		return "ignore"
	}
}

// Classify maps the sender/recipient role pair onto a tracking kind.
func Classify(senderRole, recipientRole shared.Role) Kind {
	switch {
	case senderRole == shared.RoleClient && recipientRole == shared.RoleProvider:
		return KindInitial
	case senderRole == shared.RoleProvider && recipientRole == shared.RoleClient:
		return KindResponse
	default:
		return KindIgnore
	}
}
