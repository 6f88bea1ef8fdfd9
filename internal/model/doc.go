// Package model defines the records shared by the sync engine, the event
// store and the CLI.
//
// A Server is one 4AllPortal endpoint. Each Server owns Modules, and each
// Module owns the Events received for it. Events move through a small state
// machine:
//
//	queued → processing → done
//	                    → error
//
// Three paths lead back to queued and no others: stale recovery and the
// release of the in-flight claim on a fatal abort (both from processing),
// and an operator requeue of failed events (from error).
//
// The processing flag on an event is the admission-control signal shared by
// concurrently running invocations. It is set when an event is claimed and
// cleared exactly once when the claim ends, whatever the outcome.
//
// SyncParameters carries the per-invocation run configuration. It is built
// once by the caller and passed by value.
package model
