package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

const namespace = "chat"

// HTTP and gRPC surface.
var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests served, by route and status.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	grpcHandledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "grpc",
		Name:      "handled_total",
		Help:      "Unary gRPC calls completed, by code.",
	}, []string{"grpc_service", "grpc_method", "grpc_code"})
)

// Socket sessions.
var (
	wsSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ws",
		Name:      "sessions",
		Help:      "Open websocket sessions.",
	})

	wsOnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ws",
		Name:      "online_users",
		Help:      "Users with at least one open session.",
	})

	wsEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ws",
		Name:      "events_total",
		Help:      "Inbound socket ops and session lifecycle events.",
	}, []string{"event"})
)

// Chat dispatch, broker and storage side effects.
var (
	chatEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Chat operations handled, by outcome.",
	}, []string{"event", "outcome"})

	fanoutDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fanout_deliveries_total",
		Help:      "Outbound events queued to sessions.",
	}, []string{"event"})

	brokerPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "amqp",
		Name:      "published_total",
		Help:      "Broker publishes, by event family and result.",
	}, []string{"family", "result"})

	mediaDeleteErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "media",
		Name:      "delete_errors_total",
		Help:      "Attachments that could not be removed from storage.",
	}, []string{"backend"})
)

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		service, method := splitFullMethod(info.FullMethod)
		grpcHandledTotal.WithLabelValues(service, method, status.Code(err).String()).Inc()
		return resp, err
	}
}

// splitFullMethod turns "/pkg.Service/Method" into its two parts.
func splitFullMethod(fullMethod string) (string, string) {
	service, method, ok := strings.Cut(strings.TrimPrefix(fullMethod, "/"), "/")
	if !ok || service == "" || method == "" {
		return "unknown", "unknown"
	}
	return service, method
}

func SessionOpened() { wsSessions.Inc() }

func SessionClosed() { wsSessions.Dec() }

func SetOnlineUsers(n int) { wsOnlineUsers.Set(float64(n)) }

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncChatEvent(event, outcome string) {
	chatEventsTotal.WithLabelValues(event, outcome).Inc()
}

func AddFanoutDeliveries(event string, n int) {
	if n <= 0 {
		return
	}
	fanoutDeliveriesTotal.WithLabelValues(event).Add(float64(n))
}

// observePublish counts a broker publish under the routing key's first segment.
func observePublish(routingKey string, err error) {
	family, _, _ := strings.Cut(routingKey, ".")
	if family == "" {
		family = "unknown"
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	brokerPublishedTotal.WithLabelValues(family, result).Inc()
}

func IncMediaDeleteError(backend string) {
	mediaDeleteErrorsTotal.WithLabelValues(backend).Inc()
}
