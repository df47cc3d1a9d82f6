package calendar

import (
	"math/rand"
	"sync"
	"time"
)

// SystemRand is the production RandSource, a mutex-guarded math/rand.Rand
// seeded from the current time. Shared by every schedule's R field resolution;
// a dedicated source is used instead of the package-level math/rand functions
// so the scheduler never depends on global RNG state.
type SystemRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewSystemRand returns a SystemRand seeded from the current time.
func NewSystemRand() *SystemRand {
	return &SystemRand{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (s *SystemRand) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Intn(n)
}
