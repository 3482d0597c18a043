package core

import "github.com/dkeye/Voicecall/internal/domain"

// Authenticator validates a credential presented at connect time.
type Authenticator interface {
	Authenticate(token string) (*domain.User, error)
}
