package statusapi

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	defaultStreamInterval = 3 * time.Second
	heartbeatInterval     = 15 * time.Second
)

// snapshotEvent is pushed whenever the pending set changes.
type snapshotEvent struct {
	Count    int           `json:"count"`
	Grants   int           `json:"grants"`
	Requests []pendingView `json:"requests"`
}

// handleSSE streams pending snapshots. A snapshot is only sent when the set
// of ids or the grant count differs from the last one sent.
func handleSSE(src PendingSource, interval time.Duration) gin.HandlerFunc {
	if interval <= 0 {
		interval = defaultStreamInterval
	}
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		c.Writer.Flush()

		var last string
		send := func() {
			views := pendingViews(src.Pending(), time.Now())
			grants := src.Grants()
			key := fingerprint(views, grants)
			if key == last {
				return
			}
			last = key
			writeSSE(c.Writer, "pending", snapshotEvent{Count: len(views), Grants: grants, Requests: views})
			c.Writer.Flush()
		}
		send()

		ctx := c.Request.Context()
		ticker := time.NewTicker(interval)
		heartbeat := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-ticker.C:
				send()
			}
		}
	}
}

func fingerprint(views []pendingView, grants int) string {
	key := fmt.Sprintf("%d|", grants)
	for _, v := range views {
		key += v.ID + ","
	}
	return key
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
