// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// LLMStreamDuration tracks agent reply streaming duration.
	LLMStreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_stream_duration_seconds",
			Help:    "LLM streaming response duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"model", "status"},
	)

	// LLMChunksTotal tracks streamed chunks forwarded to chat sockets.
	LLMChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_chunks_total",
			Help: "Total LLM chunks streamed to chats",
		},
		[]string{"model"},
	)

	// WSConnectionsActive tracks active chat socket connections on the backend.
	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Number of active chat WebSocket connections",
		},
	)

	// ChatsTotal tracks total chats created.
	ChatsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chats_total",
			Help: "Total chats created",
		},
	)

	// ChatMessagesTotal tracks total messages stored.
	ChatMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total chat messages stored",
		},
		[]string{"sender_type", "type"},
	)

	// ClientConnectAttempts tracks socket connect attempts made by the client.
	ClientConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_client_connect_attempts_total",
			Help: "Chat socket connect attempts by result",
		},
		[]string{"result"},
	)

	// ClientReconnectsScheduled tracks backoff reconnects scheduled by the client.
	ClientReconnectsScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_client_reconnects_scheduled_total",
			Help: "Reconnects scheduled after an unclean close",
		},
	)

	// ClientFrames tracks inbound frames by kind.
	ClientFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_client_frames_total",
			Help: "Inbound chat frames by kind",
		},
		[]string{"kind"},
	)

	// ClientParseErrors tracks inbound frames that failed to decode.
	ClientParseErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_client_parse_errors_total",
			Help: "Inbound chat frames that could not be decoded",
		},
	)

	// ClientSends tracks outbound sends by result.
	ClientSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_client_sends_total",
			Help: "Outbound chat sends by result",
		},
		[]string{"result"},
	)

	// ClientRESTDuration tracks REST call duration on the client.
	ClientRESTDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_client_rest_duration_seconds",
			Help:    "Chat REST call duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMStream records metrics for an agent streaming reply.
func RecordLLMStream(model, status string, duration float64, chunks int) {
	LLMStreamDuration.WithLabelValues(model, status).Observe(duration)
	LLMChunksTotal.WithLabelValues(model).Add(float64(chunks))
}

// IncrementWSConnections increments the active socket count.
func IncrementWSConnections() {
	WSConnectionsActive.Inc()
}

// DecrementWSConnections decrements the active socket count.
func DecrementWSConnections() {
	WSConnectionsActive.Dec()
}

// RecordMessage counts a stored chat message.
func RecordMessage(senderType, kind string) {
	ChatMessagesTotal.WithLabelValues(senderType, kind).Inc()
}

// RecordConnectAttempt counts a client connect attempt.
func RecordConnectAttempt(result string) {
	ClientConnectAttempts.WithLabelValues(result).Inc()
}

// RecordFrame counts an inbound frame.
func RecordFrame(kind string) {
	ClientFrames.WithLabelValues(kind).Inc()
}

// RecordSend counts an outbound send.
func RecordSend(result string) {
	ClientSends.WithLabelValues(result).Inc()
}

// RecordREST records a client REST call.
func RecordREST(operation, status string, duration float64) {
	ClientRESTDuration.WithLabelValues(operation, status).Observe(duration)
}
