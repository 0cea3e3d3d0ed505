package services

// Metrics is the slice of monitoring.Monitor the services report to.
type Metrics interface {
	TrackIssued(format string)
	TrackAccept(result string)
	TrackTransition(from, to string)
}

type noopMetrics struct{}

func (noopMetrics) TrackIssued(string)             {}
func (noopMetrics) TrackAccept(string)             {}
func (noopMetrics) TrackTransition(string, string) {}
