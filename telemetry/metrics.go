package telemetry

// RequestDurationBuckets covers local statement execution; most requests
// resolve against an embedded database in well under a millisecond.
var RequestDurationBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// Session/request metrics
var (
	// RequestsTotal counts handled requests by type and status (success, failed)
	RequestsTotal CounterVec = noopCounterVec{}

	// RequestDurationSeconds measures request handling latency by type
	RequestDurationSeconds HistogramVec = noopHistogramVec{}

	// SessionsActive tracks currently connected client sessions
	SessionsActive Gauge = NoopStat{}

	// SessionsTotal counts sessions accepted since start
	SessionsTotal Counter = NoopStat{}
)

// Cursor metrics
var (
	// OpenCursors tracks currently open server-side cursors across sessions
	OpenCursors Gauge = NoopStat{}

	// CursorsOpenedTotal counts cursors registered for later fetches
	CursorsOpenedTotal Counter = NoopStat{}

	// CursorsRejectedTotal counts executions refused by the open-cursor limit
	CursorsRejectedTotal Counter = NoopStat{}

	// BatchStatementsTotal counts batch statements by result (success, failed)
	BatchStatementsTotal CounterVec = noopCounterVec{}
)

func InitMetrics() {
	RequestsTotal = NewCounterVec(
		"requests_total",
		"Handled requests by type and status",
		[]string{"type", "status"},
	)
	RequestDurationSeconds = NewHistogramVec(
		"request_duration_seconds",
		"Request handling duration in seconds",
		[]string{"type"},
		RequestDurationBuckets,
	)
	SessionsActive = NewGauge(
		"sessions_active",
		"Currently connected client sessions",
	)
	SessionsTotal = NewCounter(
		"sessions_total",
		"Client sessions accepted since start",
	)

	OpenCursors = NewGauge(
		"open_cursors",
		"Currently open server-side cursors across all sessions",
	)
	CursorsOpenedTotal = NewCounter(
		"cursors_opened_total",
		"Cursors registered for later fetches",
	)
	CursorsRejectedTotal = NewCounter(
		"cursors_rejected_total",
		"Executions refused by the open-cursor limit",
	)
	BatchStatementsTotal = NewCounterVec(
		"batch_statements_total",
		"Batch statements by result",
		[]string{"result"},
	)
}
