package runstore

import (
	"time"

	"canary-convert/internal/model"
)

// Summary is the machine readable record of one batch.
type Summary struct {
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   time.Time    `json:"finished_at"`
	Elapsed      string       `json:"elapsed"`
	InputFormat  string       `json:"input_format"`
	OutputFormat string       `json:"output_format"`
	Input        string       `json:"input"`
	OutputDir    string       `json:"output_dir"`
	Cancelled    bool         `json:"cancelled"`
	Error        string       `json:"error,omitempty"`
	TotalBytes   int64        `json:"total_bytes"`
	Jobs         []JobSummary `json:"jobs"`
}

type JobSummary struct {
	JobID       string            `json:"job_id"`
	SourcePath  string            `json:"source_path"`
	State       model.State       `json:"state"`
	RecordsDone int               `json:"records_done"`
	BytesDone   int64             `json:"bytes_done"`
	BytesTotal  int64             `json:"bytes_total"`
	OutputPath  string            `json:"output_path,omitempty"`
	Warnings    int               `json:"warnings"`
	Error       *model.FatalError `json:"error,omitempty"`
}

// Counts tallies jobs by terminal state.
func (s Summary) Counts() map[model.State]int {
	out := map[model.State]int{}
	for _, j := range s.Jobs {
		out[j.State]++
	}
	return out
}

func WriteSummary(path string, s Summary) error {
	return WriteJSON(path, s)
}

func LoadSummary(path string) (Summary, error) {
	var s Summary
	err := ReadJSON(path, &s)
	return s, err
}
