package limits

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ConnectionType classifies a connection for per-class accounting.
type ConnectionType string

const (
	TypeDatabase  ConnectionType = "database"
	TypeAPI       ConnectionType = "api"
	TypeWebsocket ConnectionType = "websocket"
	TypeExternal  ConnectionType = "external"
)

// ErrUnknownConnectionType indicates an acquire with a type that has no
// configured limit.
var ErrUnknownConnectionType = fmt.Errorf("unknown connection type")

// ConnectionStats is a point-in-time view of connection accounting.
type ConnectionStats struct {
	Total   int                      `json:"total"`
	PerType map[ConnectionType]Usage `json:"per_type"`
}

// ConnectionLimiter refines connection accounting into independently
// quota'd classes. One shared map holds every live connection; per-type
// counts are derived by filtering it.
type ConnectionLimiter struct {
	mu     sync.Mutex
	limits map[ConnectionType]int
	conns  map[string]ConnectionInfo
	logger zerolog.Logger
}

// NewConnectionLimiter creates a ConnectionLimiter with one ceiling per
// connection type.
func NewConnectionLimiter(typeLimits map[ConnectionType]int, logger zerolog.Logger) *ConnectionLimiter {
	limits := make(map[ConnectionType]int, len(typeLimits))
	for t, n := range typeLimits {
		limits[t] = n
	}
	return &ConnectionLimiter{
		limits: limits,
		conns:  make(map[string]ConnectionInfo),
		logger: logger.With().Str("component", "limits.connections").Logger(),
	}
}

// Acquire registers a connection of the given type, checking that
// type's quota and registering under one lock. Duplicate ids return
// ErrConnectionExists; a full class returns a *LimitError.
func (c *ConnectionLimiter) Acquire(id string, typ ConnectionType, meta map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	limit, ok := c.limits[typ]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnectionType, typ)
	}
	if _, held := c.conns[id]; held {
		return fmt.Errorf("%w: %s", ErrConnectionExists, id)
	}

	current := c.countLocked(typ)
	if current >= limit {
		c.logger.Warn().
			Str("type", string(typ)).
			Int("current", current).
			Int("limit", limit).
			Msg("Connection class quota exceeded")
		return &LimitError{Kind: KindConnections, Current: float64(current), Limit: float64(limit)}
	}

	c.conns[id] = ConnectionInfo{
		ID:        id,
		Type:      typ,
		CreatedAt: time.Now(),
		Metadata:  meta,
	}
	return nil
}

// Release removes the connection registered under id, regardless of
// type. Unknown ids are a no-op.
func (c *ConnectionLimiter) Release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, id)
}

// Active returns the live count for one connection type.
func (c *ConnectionLimiter) Active(typ ConnectionType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.countLocked(typ)
}

// Stats returns the total count and per-type current/limit/ratio.
func (c *ConnectionLimiter) Stats() ConnectionStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := ConnectionStats{
		Total:   len(c.conns),
		PerType: make(map[ConnectionType]Usage, len(c.limits)),
	}
	for typ, limit := range c.limits {
		stats.PerType[typ] = usageOf(float64(c.countLocked(typ)), float64(limit))
	}
	return stats
}

// UpdateLimits swaps the per-type ceilings. Held connections above a
// lowered ceiling are not evicted.
func (c *ConnectionLimiter) UpdateLimits(typeLimits map[ConnectionType]int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.limits = make(map[ConnectionType]int, len(typeLimits))
	for t, n := range typeLimits {
		c.limits[t] = n
	}
}

func (c *ConnectionLimiter) countLocked(typ ConnectionType) int {
	n := 0
	for _, info := range c.conns {
		if info.Type == typ {
			n++
		}
	}
	return n
}
