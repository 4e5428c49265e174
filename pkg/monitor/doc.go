// Package monitor keeps the registry in step with running containers.
//
// On start the monitor subscribes to its Source, activates every container
// that is already running, and then applies start and die events in order.
// Serve returns when the event stream fails, which lets a supervisor restart
// it with a fresh bootstrap. Restarting never clears the registry: activation
// is idempotent, so a replayed start republishes the same entries.
package monitor
