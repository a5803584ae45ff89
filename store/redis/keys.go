package redis

import "github.com/browserq/browserq/job"

const (
	// allJobsKey is the set of every job id.
	allJobsKey = "browserq:jobs"
)

// jobKey is the string key holding one job record as JSON.
func jobKey(jobID string) string {
	return "browserq:job:" + jobID
}

// statusKey is the set of job ids with the given status.
func statusKey(status job.Status) string {
	return "browserq:jobs:" + string(status)
}
