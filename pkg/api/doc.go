/*
Package api provides the HTTP admin API for dnsrest.

Routes:

	GET    /container/{name|id}/{arg}   domains mapped to a container
	PUT    /container/{name|id}/{arg}   {"domains": [...]} replaces the mapping
	DELETE /container/{name|id}/{arg}   removes the mapping
	GET    /domain/{domain}             static addresses of a domain
	PUT    /domain/{domain}             {"ips": [...]} adds static addresses
	DELETE /domain/{domain}             removes every static address
	GET    /debug                       domain tree dump
	GET    /events                      applied lifecycle events, one JSON per line
	GET    /health, /ready, /metrics

Successful writes reply {"code": 0}; lookups add a "record" list. Invalid
input is rejected with 400 and {"code": 1, "message": "..."} before the
registry is touched.
*/
package api
