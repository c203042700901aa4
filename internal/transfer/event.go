package transfer

// EventType represents a transfer lifecycle transition.
type EventType string

const (
	// QueuedForDownload means the poller found a new downloadable transfer.
	QueuedForDownload EventType = "queued_for_download"
	// Downloaded means every target of the plan landed on disk.
	Downloaded EventType = "downloaded"
	// Imported means every file target was imported by an Arr service.
	Imported EventType = "imported"
)

// Event is a transfer lifecycle message on the engine's event channel.
type Event struct {
	Type     EventType
	Transfer *Transfer
}
