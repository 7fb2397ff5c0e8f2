package monitor

import (
	"sort"
	"sync"
	"time"
)

// AgentRecord is the latest report pushed by a remote reporting agent.
type AgentRecord struct {
	Name          string    `json:"name"`
	CPUPercent    float64   `json:"cpu_percent"`
	RAMPercent    float64   `json:"ram_percent"`
	SourceAddress string    `json:"source_address"`
	LastSeen      time.Time `json:"last_seen"`
}

// AgentRegistry keeps one record per agent name, last write wins.
// Records never expire.
type AgentRegistry struct {
	now func() time.Time

	mu     sync.RWMutex
	agents map[string]AgentRecord
}

func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{now: time.Now, agents: make(map[string]AgentRecord)}
}

// Report stores a report. source is the address of the connection that sent it.
func (r *AgentRegistry) Report(name string, cpu, ram float64, source string) AgentRecord {
	rec := AgentRecord{
		Name:          name,
		CPUPercent:    cpu,
		RAMPercent:    ram,
		SourceAddress: source,
		LastSeen:      r.now(),
	}
	r.mu.Lock()
	r.agents[name] = rec
	r.mu.Unlock()
	return rec
}

// Get returns the record for name.
func (r *AgentRegistry) Get(name string) (AgentRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.agents[name]
	return rec, ok
}

// List returns all records sorted by name.
func (r *AgentRegistry) List() []AgentRecord {
	r.mu.RLock()
	out := make([]AgentRecord, 0, len(r.agents))
	for _, rec := range r.agents {
		out = append(out, rec)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of known agents.
func (r *AgentRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
