// Package config loads, normalizes, and validates jobtrail configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// JOBTRAIL_LEDGER_DIR and JOBTRAIL_DATASET_ID. The Config type is passed
// explicitly to every component; there is no package-level instance.
package config
