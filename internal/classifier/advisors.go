package classifier

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Advisor is a human sales agent that handed-off customers get routed to.
type Advisor struct {
	Name  string `yaml:"name"`
	Phone string `yaml:"phone"`
	Email string `yaml:"email"`
}

// Roster holds the advisor list and assigns them round-robin.
type Roster struct {
	mu       sync.Mutex
	advisors []Advisor
	next     int
}

type rosterFile struct {
	Advisors []Advisor `yaml:"advisors"`
}

// LoadRoster reads the advisor roster from a YAML file.
func LoadRoster(path string) (*Roster, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read advisor roster: %w", err)
	}

	var f rosterFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse advisor roster: %w", err)
	}
	if len(f.Advisors) == 0 {
		return nil, fmt.Errorf("advisor roster %s is empty", path)
	}
	for i, a := range f.Advisors {
		if a.Name == "" || a.Phone == "" {
			return nil, fmt.Errorf("advisor roster entry %d is missing name or phone", i)
		}
	}

	return &Roster{advisors: f.Advisors}, nil
}

// Assign returns the next advisor in rotation.
func (r *Roster) Assign() Advisor {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := r.advisors[r.next%len(r.advisors)]
	r.next++
	return a
}

// Size returns the number of advisors on the roster.
func (r *Roster) Size() int {
	return len(r.advisors)
}
