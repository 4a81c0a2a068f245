package statusapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zulandar/grabyard/internal/history"
	"github.com/zulandar/grabyard/internal/pending"
)

// statsWindow is the lookback for /api/stats outcome counts.
const statsWindow = 24 * time.Hour

// registerRoutes sets up all status routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	router.GET("/healthz", handleHealth())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.GET("/pending", handlePending(opts.Pending))
	api.GET("/history", handleHistory(opts.History))
	api.GET("/stats", handleStats(opts.Pending, opts.History))
	api.GET("/events", handleSSE(opts.Pending, opts.StreamInterval))
}

type pendingView struct {
	ID         string  `json:"id"`
	Link       string  `json:"link"`
	Origin     string  `json:"origin"`
	Requester  string  `json:"requester"`
	CreatedAt  string  `json:"created_at"`
	AgeSeconds float64 `json:"age_seconds"`
}

func pendingViews(reqs []pending.Request, now time.Time) []pendingView {
	out := make([]pendingView, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, pendingView{
			ID:         r.ID,
			Link:       r.Query,
			Origin:     string(r.Origin),
			Requester:  string(r.Requester),
			CreatedAt:  r.CreatedAt.UTC().Format(time.RFC3339),
			AgeSeconds: r.Age(now).Seconds(),
		})
	}
	return out
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handlePending(src PendingSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqs := pendingViews(src.Pending(), time.Now())
		c.JSON(http.StatusOK, gin.H{
			"count":    len(reqs),
			"grants":   src.Grants(),
			"requests": reqs,
		})
	}
}

func handleHistory(src HistorySource) gin.HandlerFunc {
	return func(c *gin.Context) {
		if src == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history is disabled"})
			return
		}

		f := history.Filter{
			Requester: c.Query("requester"),
			Outcome:   c.Query("outcome"),
		}
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			f.Limit = n
		}
		if v := c.Query("since"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a duration such as 1h"})
				return
			}
			f.Since = time.Now().Add(-d)
		}

		recs, err := src.List(c.Request.Context(), f)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": len(recs), "records": recs})
	}
}

func handleStats(p PendingSource, h HistorySource) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{
			"pending": len(p.Pending()),
			"grants":  p.Grants(),
		}
		if h != nil {
			counts, err := h.Counts(c.Request.Context(), time.Now().Add(-statsWindow))
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			body["outcomes_24h"] = counts
		}
		c.JSON(http.StatusOK, body)
	}
}
