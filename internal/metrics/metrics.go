package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "prepmate_ws_connections",
		Help: "Current number of active websocket connections",
	})
	WsRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "prepmate_ws_rooms",
		Help: "Current number of live meeting rooms",
	})
	MeetingsBooked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "prepmate_meetings_booked_total",
		Help: "Total number of meetings booked",
	})
	MeetingsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "prepmate_meetings_accepted_total",
		Help: "Total number of meetings accepted by an interviewer",
	})
	MeetingsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "prepmate_meetings_completed_total",
		Help: "Total number of meetings completed",
	})
	MeetingsSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "prepmate_meetings_swept_total",
		Help: "Total number of accepted meetings returned to the queue after an interviewer no-show",
	})
	ReviewsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "prepmate_reviews_total",
		Help: "Total number of reviews submitted",
	})
	WarningsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "prepmate_warnings_total",
		Help: "Total number of warnings issued to interviewers",
	}, []string{"reason"})
	ChatWordsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "prepmate_chat_words_total",
		Help: "Total number of chat words accepted",
	})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsConnections, WsRooms,
		MeetingsBooked, MeetingsAccepted, MeetingsCompleted, MeetingsSwept,
		ReviewsTotal, WarningsTotal, ChatWordsTotal,
		HttpRequestsTotal, HttpRequestDuration,
	)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
