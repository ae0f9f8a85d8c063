// ABOUTME: Directory of the remote agent personas the console can address
// ABOUTME: Resolved once from configuration and passed explicitly to callers

package agent

import (
	"errors"
	"fmt"
	"sync"
)

// ErrAgentAlreadyRegistered indicates a persona with the same ID is already known.
var ErrAgentAlreadyRegistered = errors.New("agent already registered")

// ErrAgentNotFound indicates the specified persona was not found.
var ErrAgentNotFound = errors.New("agent not found")

// Role is the part a persona plays in the customer-service pipeline
type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleKnowledge   Role = "knowledge"
	RoleChannel     Role = "channel"
)

// Persona is one addressable remote agent.
type Persona struct {
	ID      string
	Name    string
	Role    Role
	Purpose string
}

// AgentInfo contains public information about a persona.
type AgentInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Role    Role   `json:"role"`
	Purpose string `json:"purpose"`
	Active  bool   `json:"active"`
}

// DefaultPurpose describes what each role does.
func DefaultPurpose(r Role) string {
	switch r {
	case RoleCoordinator:
		return "Orchestrates customer queries across sub-agents"
	case RoleKnowledge:
		return "Searches knowledge base for answers"
	case RoleChannel:
		return "Formats responses for each channel"
	}
	return ""
}

// Directory tracks the configured personas in registration order.
type Directory struct {
	mu     sync.RWMutex
	byID   map[string]*Persona
	byRole map[Role]*Persona
	order  []string
}

// NewDirectory creates a Directory populated with the given personas.
// Personas without an ID are skipped; they are not addressable.
func NewDirectory(personas ...Persona) (*Directory, error) {
	d := &Directory{
		byID:   make(map[string]*Persona),
		byRole: make(map[Role]*Persona),
	}
	for _, p := range personas {
		if p.ID == "" {
			continue
		}
		if err := d.Register(p); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Register adds a persona.
func (d *Directory) Register(p Persona) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.byID[p.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAgentAlreadyRegistered, p.ID)
	}
	if p.Purpose == "" {
		p.Purpose = DefaultPurpose(p.Role)
	}
	d.byID[p.ID] = &p
	if p.Role != "" {
		if _, taken := d.byRole[p.Role]; !taken {
			d.byRole[p.Role] = &p
		}
	}
	d.order = append(d.order, p.ID)
	return nil
}

// Get returns the persona with the given ID.
func (d *Directory) Get(id string) (Persona, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.byID[id]
	if !ok {
		return Persona{}, false
	}
	return *p, true
}

// ByRole returns the first persona registered for a role.
func (d *Directory) ByRole(r Role) (Persona, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.byRole[r]
	if !ok {
		return Persona{}, fmt.Errorf("%w: no %s persona configured", ErrAgentNotFound, r)
	}
	return *p, nil
}

// ListAgents returns every persona; the ones whose IDs are in active are flagged.
func (d *Directory) ListAgents(active ...string) []*AgentInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	isActive := make(map[string]bool, len(active))
	for _, id := range active {
		isActive[id] = true
	}

	agents := make([]*AgentInfo, 0, len(d.order))
	for _, id := range d.order {
		p := d.byID[id]
		agents = append(agents, &AgentInfo{
			ID:      p.ID,
			Name:    p.Name,
			Role:    p.Role,
			Purpose: p.Purpose,
			Active:  isActive[p.ID],
		})
	}
	return agents
}
