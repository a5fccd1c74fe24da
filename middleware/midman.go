package middleware

import (
	"sync"

	"github.com/gin-gonic/gin"
)

// Manager collects the middleware chain so the composition root can
// assemble it in one place before mounting routes.
type Manager struct {
	mu   sync.RWMutex
	mids []gin.HandlerFunc
}

func NewManager() *Manager {
	return &Manager{}
}

// Register appends a middleware to the chain.
func (m *Manager) Register(h gin.HandlerFunc) {
	if h == nil {
		return
	}
	m.mu.Lock()
	m.mids = append(m.mids, h)
	m.mu.Unlock()
}

// Apply installs the registered chain on the engine, in registration order.
func (m *Manager) Apply(r *gin.Engine) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, h := range m.mids {
		r.Use(h)
	}
}
