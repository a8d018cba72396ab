package sim

// CleanupCount exposes the number of registered cleanups to external tests.
func CleanupCount(obj Object) int { return len(obj.base().cleanups) }
