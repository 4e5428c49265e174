// Package registry ties container mappings, active containers and static
// domains to the domain tree. Every exported method runs under one mutex.
package registry
