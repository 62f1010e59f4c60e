package tools

import "time"

// Usage tracks calls to one tool
type Usage struct {
	Calls         int           `json:"calls"`
	Failures      int           `json:"failures"`
	TotalDuration time.Duration `json:"total_duration"`
	LastUsed      time.Time     `json:"last_used"`
}

func (r *Registry) recordUsage(name string, d time.Duration, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.usage[name]
	if !ok {
		u = &Usage{}
		r.usage[name] = u
	}
	u.Calls++
	if !success {
		u.Failures++
	}
	u.TotalDuration += d
	u.LastUsed = time.Now()
}

// Usage returns a snapshot of per-tool usage.
func (r *Registry) Usage() map[string]Usage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Usage, len(r.usage))
	for name, u := range r.usage {
		out[name] = *u
	}
	return out
}
