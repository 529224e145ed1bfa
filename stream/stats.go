package stream

// Stats counts one worker's traffic. Fields are plain integers: a worker
// owns its Stats exclusively until the coordinator merges them at join.
type Stats struct {
	Events  int64 `json:"events"`
	Batches int64 `json:"batches"`
	Bytes   int64 `json:"bytes"`
}

// Merge folds o into s.
func (s *Stats) Merge(o Stats) {
	s.Events += o.Events
	s.Batches += o.Batches
	s.Bytes += o.Bytes
}

// Snapshot is a worker's progress report, rendered by the console printer
// and broadcast by the monitor hub.
type Snapshot struct {
	Stream  int   `json:"stream"`
	Events  int64 `json:"events"`
	Batches int64 `json:"batches"`
	Bytes   int64 `json:"bytes"`
}
