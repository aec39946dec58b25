// Package gitrepo drives a git work tree through the git CLI.
//
// Repo exposes the history operations the replay engine needs (revision
// walks, ancestry, checkout, cherry-pick, merge) plus the staging and commit
// helpers used by the schedule and finish workflows. Every subprocess goes
// through an Executor so tests can script git's responses.
package gitrepo
