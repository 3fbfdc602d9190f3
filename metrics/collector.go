package metrics

// Collector wraps metrics and provides helper methods with pre-filled labels.
type Collector struct {
	chain string
}

// NewCollector creates a new Collector for the given chain ("tenant" or "public").
func NewCollector(chain string) *Collector {
	return &Collector{chain: chain}
}

// Chain returns the chain label.
func (c *Collector) Chain() string {
	return c.chain
}

// IncStepsApplied increments the committed steps counter.
func (c *Collector) IncStepsApplied(direction string) {
	StepsAppliedTotal.WithLabelValues(c.chain, direction).Inc()
}

// IncStepFailures increments the failed steps counter.
func (c *Collector) IncStepFailures(direction string) {
	StepFailuresTotal.WithLabelValues(c.chain, direction).Inc()
}

// IncNamespaceOutcome increments the outcome counter for a namespace result.
func (c *Collector) IncNamespaceOutcome(outcome string) {
	NamespaceOutcomesTotal.WithLabelValues(c.chain, outcome).Inc()
}

// IncLockContention increments the lock contention counter.
func (c *Collector) IncLockContention() {
	LockContentionTotal.WithLabelValues(c.chain).Inc()
}

// IncNamespacesCreated increments the created namespaces counter.
func (c *Collector) IncNamespacesCreated() {
	NamespacesCreatedTotal.WithLabelValues(c.chain).Inc()
}

// SetTenantsSelected sets the selected tenants gauge.
func (c *Collector) SetTenantsSelected(count int) {
	TenantsSelected.WithLabelValues(c.chain).Set(float64(count))
}

// IncActiveSessions increments the open sessions gauge.
func (c *Collector) IncActiveSessions() {
	ActiveSessions.WithLabelValues(c.chain).Inc()
}

// DecActiveSessions decrements the open sessions gauge.
func (c *Collector) DecActiveSessions() {
	ActiveSessions.WithLabelValues(c.chain).Dec()
}

// ObserveStepDuration records a step duration observation.
func (c *Collector) ObserveStepDuration(direction string, seconds float64) {
	StepDuration.WithLabelValues(c.chain, direction).Observe(seconds)
}

// ObserveLockWait records a lock acquisition duration observation.
func (c *Collector) ObserveLockWait(seconds float64) {
	LockWaitDuration.WithLabelValues(c.chain).Observe(seconds)
}

// ObserveFleetRunDuration records a fleet run duration observation.
func (c *Collector) ObserveFleetRunDuration(seconds float64) {
	FleetRunDuration.WithLabelValues(c.chain).Observe(seconds)
}
