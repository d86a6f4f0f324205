package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	validatorVerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlscout_validator_verdicts_total",
			Help: "Total SQL validation verdicts by result.",
		},
		[]string{"verdict"},
	)
	schemaCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlscout_schema_cache_lookups_total",
			Help: "Schema cache lookups by outcome (hit or miss).",
		},
		[]string{"outcome"},
	)
	rpcRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlscout_rpc_requests_total",
			Help: "RPC requests handled by the schema service, by method and outcome.",
		},
		[]string{"method", "outcome"},
	)
	conversionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlscout_conversions_total",
			Help: "Conversion requests by final outcome.",
		},
		[]string{"outcome"},
	)
	providerRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlscout_provider_retries_total",
			Help: "Retried provider calls after rate-limit or transient failures.",
		},
	)
	providerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlscout_provider_errors_total",
			Help: "Provider call failures by error kind.",
		},
		[]string{"kind"},
	)
	schemaFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlscout_schema_fallbacks_total",
			Help: "Conversions that fell back to local schema extraction.",
		},
	)
	healthPollAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlscout_health_poll_attempts_total",
			Help: "Supervisor health poll attempts by service and result.",
		},
		[]string{"service", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		validatorVerdictsTotal,
		schemaCacheLookupsTotal,
		rpcRequestsTotal,
		conversionsTotal,
		providerRetriesTotal,
		providerErrorsTotal,
		schemaFallbacksTotal,
		healthPollAttemptsTotal,
	)
}

func ObserveValidation(accepted bool) {
	verdict := "rejected"
	if accepted {
		verdict = "accepted"
	}
	validatorVerdictsTotal.WithLabelValues(verdict).Inc()
}

func ObserveSchemaCacheLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	schemaCacheLookupsTotal.WithLabelValues(outcome).Inc()
}

func ObserveRPC(method, outcome string) {
	rpcRequestsTotal.WithLabelValues(method, outcome).Inc()
}

func ObserveConversion(outcome string) {
	conversionsTotal.WithLabelValues(outcome).Inc()
}

func ObserveProviderRetry() {
	providerRetriesTotal.Inc()
}

func ObserveProviderError(kind string) {
	providerErrorsTotal.WithLabelValues(kind).Inc()
}

func ObserveSchemaFallback() {
	schemaFallbacksTotal.Inc()
}

func ObserveHealthPoll(service string, ok bool) {
	result := "fail"
	if ok {
		result = "ok"
	}
	healthPollAttemptsTotal.WithLabelValues(service, result).Inc()
}
