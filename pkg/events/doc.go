// Package events defines container lifecycle events and a broker that fans
// applied events out to subscribers such as the admin API event stream.
package events
