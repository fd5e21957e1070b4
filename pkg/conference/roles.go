package conference

import "github.com/jitsi-contrib/jicofo-go/pkg/source"

// RoleManager grants conference ownership (the right to mute others, pin a bridge
// version, and similar operator actions) per one of two policies (spec.md §4.7).
type RoleManager interface {
	// OnJoin records a newly-joined member and reports whether it was granted
	// ownership.
	OnJoin(id source.EndpointID, authenticated bool) (owner bool)
	// OnLeave forgets a departed member, promoting a successor under
	// FirstOccupantPolicy if the departed member held ownership.
	OnLeave(id source.EndpointID)
	// IsOwner reports whether id currently holds ownership rights.
	IsOwner(id source.EndpointID) bool
}

// FirstOccupantPolicy grants ownership to the first non-bot occupant and promotes the
// next-oldest remaining member if the owner leaves.
type FirstOccupantPolicy struct {
	order []source.EndpointID
	owner source.EndpointID
}

// NewFirstOccupantPolicy creates an empty FirstOccupantPolicy.
func NewFirstOccupantPolicy() *FirstOccupantPolicy {
	return &FirstOccupantPolicy{}
}

func (p *FirstOccupantPolicy) OnJoin(id source.EndpointID, _ bool) bool {
	p.order = append(p.order, id)
	if p.owner == "" {
		p.owner = id
	}
	return p.owner == id
}

func (p *FirstOccupantPolicy) OnLeave(id source.EndpointID) {
	for i, existing := range p.order {
		if existing == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	if p.owner == id {
		if len(p.order) > 0 {
			p.owner = p.order[0]
		} else {
			p.owner = ""
		}
	}
}

func (p *FirstOccupantPolicy) IsOwner(id source.EndpointID) bool {
	return p.owner != "" && p.owner == id
}

// EveryAuthenticatedUserPolicy grants ownership to every authenticated member
// (e.g. every participant that logged in via the conference's identity provider).
type EveryAuthenticatedUserPolicy struct {
	authenticated map[source.EndpointID]struct{}
}

// NewEveryAuthenticatedUserPolicy creates an empty EveryAuthenticatedUserPolicy.
func NewEveryAuthenticatedUserPolicy() *EveryAuthenticatedUserPolicy {
	return &EveryAuthenticatedUserPolicy{authenticated: make(map[source.EndpointID]struct{})}
}

func (p *EveryAuthenticatedUserPolicy) OnJoin(id source.EndpointID, authenticated bool) bool {
	if authenticated {
		p.authenticated[id] = struct{}{}
	}
	return authenticated
}

func (p *EveryAuthenticatedUserPolicy) OnLeave(id source.EndpointID) {
	delete(p.authenticated, id)
}

func (p *EveryAuthenticatedUserPolicy) IsOwner(id source.EndpointID) bool {
	_, ok := p.authenticated[id]
	return ok
}
