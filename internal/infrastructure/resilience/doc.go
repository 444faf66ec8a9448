/*
Package resilience provides a circuit breaker used when the sandbox fetches
third-party scripts.

Each script origin gets its own breaker through a Group, so one unreachable
host fails fast without affecting sessions that load from other origins.

	group := resilience.NewGroup(resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
	})
	err := group.Do(ctx, "cdn.example.com", func(ctx context.Context) error {
		return fetch(ctx)
	})

States: closed (requests flow), open (requests fail with ErrCircuitOpen),
half-open (a limited number of probes decide whether to close again).
*/
package resilience
