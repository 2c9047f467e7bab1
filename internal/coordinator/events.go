package coordinator

// Event types published on TopicBridgeEvent.
const (
	EventDeviceJoined     = "device_joined"
	EventDeviceLeft       = "device_left"
	EventDeviceAnnounce   = "device_announce"
	EventDeviceRemoved    = "device_removed"
	EventInterviewStarted = "interview_started"
	EventInterviewDone    = "interview_successful"
	EventInterviewFailed  = "interview_failed"
	EventNetworkState     = "network_state"
	EventPermitJoin       = "permit_join"
)

// Event publishes a bridge event document.
func (p *Publisher) Event(eventType string, data Document) {
	doc := Document{"type": eventType}
	if len(data) > 0 {
		doc["data"] = data
	}
	if err := p.Publish(TopicBridgeEvent, doc); err != nil && p.logger != nil {
		p.logger.Warn("publish event", "type", eventType, "err", err)
	}
}
