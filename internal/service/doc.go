// Package service implements supervision of simulated work units.
//
// Overview
// The Supervisor owns an ordered collection of task records, the receiving end
// of the status queue and the sending end of the control broadcast. Clients
// create tasks, cancel one of them or all at once, and periodically call Tick
// (or let Do call it) to reconcile the records with what the units reported.
//
// A work unit runs in its own goroutine, wrapped by a Runner. It receives a
// clone of the status sender and its own control subscription, created
// before the unit starts. Units and supervisor share no memory; the Runner
// result is the only value handed back, and it is taken exactly once.
//
// Data flow:
//
//	Supervisor                 Runner{unit}                Unit
//	    |                          |                        |
//	CreateTask -> Start() -------->| go Run() ------------->|
//	    |                          |                        | RunReport/SleepReport/...
//	    |<------------------- status queue -----------------|
//	CancelTask -------------- control broadcast ----------->| polled before/after sleep
//	    |                          |<------ Result ---------| (unit returns)
//	Tick: drain status, Take() --->|                        |
//
// Invariants:
//   - Ids increase and are never reused, records are never removed.
//   - Only the goroutine driving Tick mutates records.
//   - Tick never blocks: it drains what is queued right now and takes only
//     results of units which already stopped.
//   - A Canceled record is never turned into Finished.
//   - Cancellation is cooperative and best effort; a lost directive only
//     delays the end of a unit.
//
// Other goroutines (the autospawn Spawner, signal handlers) talk to a running
// supervisor through Submit.
package service
