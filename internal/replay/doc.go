// Package replay walks a range of recorded schedule commits and rebuilds it
// on a new base.
//
// A replay runs in two passes. Plan classifies every commit of the range into
// an Action without touching the work tree. Engine then applies the actions
// one by one, threading a RerunContext that maps original commits to the
// commits produced for them. Skip-or-pick entries are resolved to skip or
// pick only while executing, because the answer depends on the head the
// previous steps produced.
//
// Reschedule is the front-end used by the CLI. It derives the revision
// range, runs the single-commit finish guard, and dispatches to execute,
// report, or script mode.
package replay
