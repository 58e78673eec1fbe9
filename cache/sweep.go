package cache

import (
	"time"

	"github.com/IvanBrykalov/cachekit/internal/logger"
)

// sweepLoop periodically removes expired entries. Expiry timers already
// remove entries on time; the sweep catches anything a timer missed.
func (c *cache[K, V]) sweepLoop(every time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			removed := c.sweepLocked()
			c.mu.Unlock()
			if removed > 0 {
				c.log.Debug("swept expired entries", logger.Count(removed))
			}
		}
	}
}
