package taskworker

// WorkerStatus enumerates what a worker is doing.
type WorkerStatus int32

const (
	WorkerIdle WorkerStatus = iota
	WorkerBusy
	WorkerStopped
	WorkerFailing
)

func (s WorkerStatus) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerBusy:
		return "busy"
	case WorkerStopped:
		return "stopped"
	case WorkerFailing:
		return "failing"
	}
	return "unknown"
}
