package custody

import (
	"fmt"
	"sync"
)

// Authorizer proves the right to move funds out of an account.
// Only Signer and Program.Sign produce one.
type Authorizer interface {
	controller() Address
}

type signer struct {
	identity Address
}

func (s signer) controller() Address { return s.identity }

// Signer authorizes as an end-user identity whose signature was verified upstream.
//
//nolint:ireturn
func Signer(identity Address) Authorizer {
	return signer{identity: identity}
}

// Program is the capability of one registered program id. Only Registry
// creates it, and only one exists per id within a registry.
type Program struct {
	id Address
}

// ID returns the program id.
func (p *Program) ID() Address {
	return p.id
}

// Derive computes the program-controlled address for seeds.
func (p *Program) Derive(seeds ...[]byte) Address {
	return Derive(p.id, seeds...)
}

// Sign returns an Authorizer for the address derived from seeds.
//
//nolint:ireturn
func (p *Program) Sign(seeds ...[]byte) Authorizer {
	copied := make([][]byte, len(seeds))
	for i, s := range seeds {
		copied[i] = append([]byte(nil), s...)
	}

	return programSigner{program: p, seeds: copied}
}

type programSigner struct {
	program *Program
	seeds   [][]byte
}

func (s programSigner) controller() Address {
	return Derive(s.program.id, s.seeds...)
}

// Registry issues program capabilities and checks authorizers against accounts.
type Registry struct {
	mu       sync.RWMutex
	programs map[Address]*Program
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{programs: make(map[Address]*Program)}
}

// RegisterProgram returns the capability for id. It fails if id is already registered.
func (r *Registry) RegisterProgram(id Address) (*Program, error) {
	if id.IsZero() {
		return nil, fmt.Errorf("%w: program id is zero", ErrInvalidAccount)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.programs[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrProgramRegistered, id)
	}

	p := &Program{id: id}
	r.programs[id] = p

	return p, nil
}

// Authorize reports whether auth may move funds out of account.
//
// End-user accounts accept only a Signer equal to the controller. Program
// accounts accept only a signer issued by this registry's capability for the
// owning program whose re-derived address equals the controller.
func (r *Registry) Authorize(account Account, auth Authorizer) error {
	if auth == nil {
		return ErrNilAuthorizer
	}

	switch a := auth.(type) {
	case signer:
		if account.ProgramControlled() {
			return fmt.Errorf("%w: account %s is program controlled", ErrUnauthorized, account.Address)
		}

		if a.identity != account.Controller {
			return fmt.Errorf("%w: signer %s is not controller of %s", ErrUnauthorized, a.identity, account.Address)
		}

		return nil
	case programSigner:
		if !account.ProgramControlled() {
			return fmt.Errorf("%w: account %s is user controlled", ErrUnauthorized, account.Address)
		}

		r.mu.RLock()
		registered, ok := r.programs[account.Program]
		r.mu.RUnlock()

		if !ok {
			return fmt.Errorf("%w: %s", ErrProgramNotRegistered, account.Program)
		}

		if a.program != registered {
			return fmt.Errorf("%w: capability not issued for program %s", ErrUnauthorized, account.Program)
		}

		if a.controller() != account.Controller {
			return fmt.Errorf("%w: derived address does not control %s", ErrUnauthorized, account.Address)
		}

		return nil
	default:
		return fmt.Errorf("%w: unknown authorizer %T", ErrUnauthorized, auth)
	}
}
