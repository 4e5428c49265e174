// Package client is a small HTTP client for the dnsrest admin API, used by
// the CLI subcommands.
package client
