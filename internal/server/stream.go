package server

import (
	"io"

	"github.com/gin-gonic/gin"

	"github.com/vesaa/netgaze/internal/live"
)

// handleStream pushes live updates as Server-Sent Events.
// A new viewer first receives the latest known state, then every update.
//
//	GET /api/stream?token=<jwt>
func (a *API) handleStream(c *gin.Context) {
	sub := a.hub.Subscribe()
	defer sub.Close()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	devices, local := a.monitor.Latest()
	if devices != nil {
		c.SSEvent(live.EventMonitor, devices)
	}
	if local != nil {
		c.SSEvent(live.EventStats, local)
	}
	c.SSEvent(live.EventAgents, a.monitor.Agents().List())
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent(msg.Event, msg.Data)
			return true
		}
	})
}
