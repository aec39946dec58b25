// Package slurm submits batch jobs and inspects them through the Slurm CLI.
//
// Submission runs the user's command through a shell and scrapes the job id
// from "Submitted batch job N". Artifact discovery and state queries parse
// `scontrol show job` output; array jobs are expanded to one entry per task.
package slurm
