/*
Package metrics provides Prometheus metrics and health reporting for dnsrest.

All collectors are registered with the default Prometheus registry at init
and exposed by Handler, which the admin API mounts at /metrics.

# Metrics

DNS responder:

	dnsrest_dns_queries_total{qtype, outcome}
	  - outcome is registry, upstream, miss, unsupported or dropped
	  - dropped packets carry an empty qtype
	dnsrest_dns_query_duration_seconds
	dnsrest_upstream_lookups_total{result}
	  - result is success, cached, not_found, timeout or error

Registry (refreshed by Collector):

	dnsrest_registry_mappings
	dnsrest_registry_active_containers
	dnsrest_registry_entries

Monitor and admin API:

	dnsrest_lifecycle_events_total{type}
	dnsrest_api_requests_total{method, status}
	dnsrest_api_request_duration_seconds{method}

# Timing

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DNSQueryDuration)

# Health

HealthChecker tracks named components. /health reports unhealthy when any
component is unhealthy; /ready reports ready once every critical component
passed to NewHealthChecker is healthy.
*/
package metrics
