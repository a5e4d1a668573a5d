package job

import "sync"

const defaultStatusKeep = 512

// StatusCache remembers the status of recent jobs so the API can
// answer questions about them after they leave the queue. Bounded;
// the oldest entries fall off.
type StatusCache struct {
	mu    sync.Mutex
	byID  map[ID]Status
	order []ID
	keep  int
}

func NewStatusCache(keep int) *StatusCache {
	if keep <= 0 {
		keep = defaultStatusKeep
	}
	return &StatusCache{byID: map[ID]Status{}, keep: keep}
}

func (c *StatusCache) SetStatus(id ID, status Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byID[id]; !ok {
		c.order = append(c.order, id)
		if len(c.order) > c.keep {
			evict := c.order[0]
			c.order = c.order[1:]
			delete(c.byID, evict)
		}
	}
	c.byID[id] = status
}

func (c *StatusCache) Status(id ID) (Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.byID[id]
	return s, ok
}
