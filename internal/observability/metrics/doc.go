// Package metrics exposes database connection pool metrics shared by the
// api and worker binaries. Dispatch metrics live next to the dispatcher.
package metrics
