package orchestrator

// Take drains the pending trigger.
// This is exported for testing purposes only.
func (o *Orchestrator) Take() *Trigger {
	return o.take()
}
