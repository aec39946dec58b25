// Package main hosts the jobtrail CLI entrypoint and command graph.
//
// The Cobra command tree resolves configuration, opens the dataset's git
// repository and output-claim ledger, and hands each invocation to the
// schedule, finish, or reschedule workflows in internal/. Results come back
// as result.Result values and are rendered here as status lines, tables, or
// JSON.
//
// Keep this package thin: behaviour belongs in the internal packages, and
// commands only translate flags into workflow requests.
package main
