package metrics

// Learning loop.

// RecordSuggestion increments the suggestions-served counter.
func RecordSuggestion() { globalManager.suggestionsServed.Inc() }

// RecordSuggestionLatency records selection latency.
func RecordSuggestionLatency(latencyMs float64) { globalManager.suggestionLatency.Observe(latencyMs) }

// RecordBanditUpdate increments the posterior update counter.
func RecordBanditUpdate() { globalManager.banditUpdates.Inc() }

// RecordBanditError increments the posterior update error counter.
func RecordBanditError() { globalManager.banditErrors.Inc() }

// Verification.

// RecordVerificationDecision counts one verifier ruling.
func RecordVerificationDecision(decision string) {
	globalManager.verificationDecisions.WithLabelValues(decision).Inc()
}

// RecordFraudScore observes one assigned fraud score.
func RecordFraudScore(score float64) { globalManager.fraudScore.Observe(score) }

// RecordRateLimited counts one hard rejection by the rate limiter.
func RecordRateLimited(metric string) { globalManager.rateLimited.WithLabelValues(metric).Inc() }

// Gateway.

// RecordWebhookEvent counts one inbound webhook by platform and outcome.
func RecordWebhookEvent(platform, outcome string) {
	globalManager.webhookEvents.WithLabelValues(platform, outcome).Inc()
}

// RecordEventDuplicate counts one deduper hit.
func RecordEventDuplicate() { globalManager.eventsDuplicate.Inc() }

// UpdateUnattributedQueued sets the reconciliation backlog size.
func UpdateUnattributedQueued(n int) { globalManager.unattributedQueued.Set(float64(n)) }

// Audit log.

// RecordAuditAppend counts one appended audit entry.
func RecordAuditAppend() { globalManager.auditAppends.Inc() }

// RecordAuditAppendError counts one failed append.
func RecordAuditAppendError() { globalManager.auditAppendErrors.Inc() }

// Referrals.

// RecordReferralTransition counts one state transition.
func RecordReferralTransition(toState string) {
	globalManager.referralTransitions.WithLabelValues(toState).Inc()
}

// Queue.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) { globalManager.queueUtilization.Set(utilization) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueues.Inc() }

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() { globalManager.queueDequeues.Inc() }

// RecordQueueError increments the enqueue error counter.
func RecordQueueError() { globalManager.queueErrors.Inc() }

// Workers.

// UpdateWorkerCount sets the worker gauge.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// RecordWorkerProcessingLatency records per-event processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() { globalManager.workerErrors.Inc() }

// RecordErrorByComponent counts one component-scoped error.
func RecordErrorByComponent(component, reason string) {
	globalManager.errorsByComponent.WithLabelValues(component, reason).Inc()
}

// Inventory.

// UpdateTotalVariants sets the variant count gauge.
func UpdateTotalVariants(n int) { globalManager.totalVariants.Set(float64(n)) }

// UpdateTotalInstances sets the content instance count gauge.
func UpdateTotalInstances(n int) { globalManager.totalInstances.Set(float64(n)) }

// HTTP.

// RecordHTTPRequest counts one request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records one request's duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// System.

// UpdateSystemMemoryUsage sets allocated heap bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the goroutine gauge.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// RecordSystemGCPauseTime records average GC pause time.
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }
