package eventbus

// Subjects on the internal bus. The only subscriber in this module is the
// HTTP layer's lifecycle event stream (GET /lifecycle/stream), on
// SubjectLifecycleEvent. Nothing in this module publishes
// SubjectLifecycleComponentStopped.
const (
	SubjectBrokerStateChanged        = "broker.state_changed"
	SubjectLifecycleComponentStopped = "lifecycle.component_stopped"
	SubjectLifecycleEvent            = "lifecycle.event"
	SubjectRecorderSegmentFinalised  = "recorder.segment_finalised"
)
