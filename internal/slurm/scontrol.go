package slurm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// JobState is a Slurm job state such as PENDING or COMPLETED.
type JobState string

const (
	StatePending   JobState = "PENDING"
	StateRunning   JobState = "RUNNING"
	StateCompleted JobState = "COMPLETED"
	StateFailed    JobState = "FAILED"
	StateCancelled JobState = "CANCELLED"
	StateTimeout   JobState = "TIMEOUT"
	StateUnknown   JobState = "UNKNOWN"
)

// Active reports whether the job has not reached a terminal state.
func (s JobState) Active() bool {
	switch s {
	case StatePending, StateRunning, "CONFIGURING", "COMPLETING", "REQUEUED", "RESIZING", "SUSPENDED":
		return true
	}
	return false
}

var excludedKeys = map[string]struct{}{"UserId": {}, "JobId": {}}

// ParseScontrol parses `scontrol show job` output into key/value pairs. Values
// never contain spaces in this output; UserId and JobId are dropped.
func ParseScontrol(output string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		for _, part := range strings.Fields(line) {
			key, value, ok := strings.Cut(part, "=")
			if !ok {
				continue
			}
			if _, skip := excludedKeys[key]; skip {
				continue
			}
			fields[key] = value
		}
	}
	return fields
}

// ExpandArrayTasks turns an array spec such as "1-5", "1,3,5" or "1-10:2"
// into per-task job names "<jobID>_<task>". A "%N" throttle suffix is ignored.
func ExpandArrayTasks(jobID, spec string) ([]string, error) {
	spec = strings.Trim(strings.TrimSpace(spec), "[]")
	if idx := strings.IndexByte(spec, '%'); idx >= 0 {
		spec = spec[:idx]
	}
	var names []string
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "-") {
			names = append(names, jobID+"_"+part)
			continue
		}
		rangePart, stepPart, hasStep := strings.Cut(part, ":")
		startText, endText, _ := strings.Cut(rangePart, "-")
		start, err := strconv.Atoi(startText)
		if err != nil {
			return nil, fmt.Errorf("array range %q: %w", part, err)
		}
		end, err := strconv.Atoi(endText)
		if err != nil {
			return nil, fmt.Errorf("array range %q: %w", part, err)
		}
		step := 1
		if hasStep {
			if step, err = strconv.Atoi(stepPart); err != nil || step <= 0 {
				return nil, fmt.Errorf("array step %q is invalid", part)
			}
		}
		for i := start; i <= end; i += step {
			names = append(names, jobID+"_"+strconv.Itoa(i))
		}
	}
	return names, nil
}

// ShowJob runs `scontrol show job` and returns the parsed fields.
func (c *Client) ShowJob(ctx context.Context, jobID string) (map[string]string, error) {
	stdout, _, err := c.exec.Run(ctx, "", c.scontrol, []string{"show", "job", jobID}, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get job information for %s: %w", jobID, err)
	}
	return ParseScontrol(stdout), nil
}

// DiscoverArtifacts returns the stdout/stderr files of a submitted job,
// relative to baseDir. Array jobs contribute one entry per task. When env
// files are enabled, the job's scontrol fields are written to
// slurm-job-<id>.env.json beside the first stdout file and that path is
// returned last.
func (c *Client) DiscoverArtifacts(ctx context.Context, jobID, baseDir string) ([]string, error) {
	fields, err := c.ShowJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	jobNames := []string{jobID}
	if _, isArray := fields["ArrayJobId"]; isArray {
		if jobNames, err = ExpandArrayTasks(jobID, fields["ArrayTaskId"]); err != nil {
			return nil, err
		}
	}

	var (
		artifacts []string
		envFile   string
	)
	for i, name := range jobNames {
		taskFields := fields
		if name != jobID {
			if taskFields, err = c.ShowJob(ctx, name); err != nil {
				return nil, err
			}
		}
		stdoutPath, stderrPath := taskFields["StdOut"], taskFields["StdErr"]
		if stdoutPath == "" || stderrPath == "" {
			return nil, errors.New("could not find StdOut or StdErr paths in scontrol output")
		}
		if i == 0 && c.writeEnvFile {
			if envFile, err = writeEnvFile(jobID, stdoutPath, taskFields); err != nil {
				return nil, err
			}
		}
		relOut, err := relativeTo(baseDir, stdoutPath)
		if err != nil {
			return nil, err
		}
		relErr, err := relativeTo(baseDir, stderrPath)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, relOut)
		if relErr != relOut {
			artifacts = append(artifacts, relErr)
		}
	}
	if envFile != "" {
		rel, err := relativeTo(baseDir, envFile)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, rel)
	}
	return artifacts, nil
}

// QueryState returns the scheduler state of jobID. When scontrol has already
// purged the job, sacct is consulted.
func (c *Client) QueryState(ctx context.Context, jobID string) (JobState, error) {
	fields, err := c.ShowJob(ctx, jobID)
	if err == nil {
		if state := fields["JobState"]; state != "" {
			return JobState(state), nil
		}
	}
	if c.sacct == "" {
		if err != nil {
			return StateUnknown, err
		}
		return StateUnknown, nil
	}
	stdout, _, sacctErr := c.exec.Run(ctx, "", c.sacct, []string{"-j", jobID, "-X", "-n", "-P", "-o", "State"}, "")
	if sacctErr != nil {
		return StateUnknown, fmt.Errorf("query state of %s: %w", jobID, errors.Join(err, sacctErr))
	}
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// sacct reports "CANCELLED by 1000"
		state, _, _ := strings.Cut(line, " ")
		return JobState(state), nil
	}
	return StateUnknown, nil
}

func writeEnvFile(jobID, stdoutPath string, fields map[string]string) (string, error) {
	path := filepath.Join(filepath.Dir(stdoutPath), fmt.Sprintf("slurm-job-%s.env.json", jobID))
	data, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode job environment: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write job environment: %w", err)
	}
	return path, nil
}

func relativeTo(baseDir, path string) (string, error) {
	if !filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	rel, err := filepath.Rel(baseDir, path)
	if err != nil {
		return "", fmt.Errorf("cannot compute relative path: %w", err)
	}
	return rel, nil
}
