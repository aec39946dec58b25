// Package services defines shared utilities consumed by the schedule, finish,
// and replay workflows.
//
// Key responsibilities:
//   - Context helpers that stamp scheduler job ids, stage names, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper, and StatusFor which maps
//     a failure onto the ok/impossible/error result taxonomy.
//
// Use these helpers when wiring new workflow logic so error handling and
// observability stay uniform across commands.
package services
