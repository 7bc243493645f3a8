package testutil

import "sync"

// ScriptedIntn replays a fixed script of sampling indices, then returns 0
// forever. Plug it into pool.WithIntn to make methodology selection
// deterministic in scenarios and golden tests.
//
// Each scripted value is clamped into [0, n) at call time, so a script
// written for a full pool stays valid after the pool shrinks.
type ScriptedIntn struct {
	mu     sync.Mutex
	script []int
	pos    int
}

// NewScriptedIntn creates a scripted sampler.
func NewScriptedIntn(script ...int) *ScriptedIntn {
	return &ScriptedIntn{script: script}
}

// Intn returns the next scripted value clamped into [0, n).
func (s *ScriptedIntn) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 {
		return 0
	}
	if s.pos >= len(s.script) {
		return 0
	}
	v := s.script[s.pos] % n
	s.pos++
	if v < 0 {
		v = 0
	}
	return v
}
