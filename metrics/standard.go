package metrics

// Pre-defined metrics for the DriveScore ledger. All metrics live in
// DefaultRegistry so they are globally accessible without passing a
// registry around.

var (
	// ---- Submission engine metrics ----

	// SubmissionsAccepted counts submissions applied to a ledger state.
	SubmissionsAccepted = DefaultRegistry.Counter("ledger.submissions_accepted")
	// SubmissionsRejected counts submissions refused by a precondition or
	// rolled back on a coprocessor failure.
	SubmissionsRejected = DefaultRegistry.Counter("ledger.submissions_rejected")
	// StreakResets counts streaks broken by a late submission.
	StreakResets = DefaultRegistry.Counter("ledger.streak_resets")
	// HistoryEvictions counts records evicted from full ring buffers.
	HistoryEvictions = DefaultRegistry.Counter("ledger.history_evictions")

	// ---- Authorizer metrics ----

	// SignPrompts counts external signature requests actually issued,
	// after cache hits and in-flight de-duplication.
	SignPrompts = DefaultRegistry.Counter("auth.sign_prompts")
	// SignDeclined counts signature prompts the user cancelled.
	SignDeclined = DefaultRegistry.Counter("auth.sign_declined")
	// AuthCacheHits counts authorizations served from the cache.
	AuthCacheHits = DefaultRegistry.Counter("auth.cache_hits")
	// DecryptBatches counts batched decryption round-trips.
	DecryptBatches = DefaultRegistry.Counter("auth.decrypt_batches")
	// DecryptHandleFailures counts individual handles that failed to
	// decrypt inside otherwise successful batches.
	DecryptHandleFailures = DefaultRegistry.Counter("auth.decrypt_handle_failures")
	// DecryptLatency records batched decryption latency in milliseconds.
	DecryptLatency = DefaultRegistry.Histogram("auth.decrypt_latency_ms")
)
