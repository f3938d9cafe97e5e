// Package resilience provides fault tolerance patterns for outbound provider calls.
//
// Dispatch never retries automatically: a failed send is recorded once and
// the integration flips to the error state. What this package adds is a
// per-provider circuit breaker so that a provider outage stops costing one
// full timeout per tenant.
//
// Usage Example:
//
//	breakers := circuitbreaker.NewSet(circuitbreaker.ProviderConfig)
//	result, err := breakers.Get("slack").Execute(func() (interface{}, error) {
//	    return callProvider()
//	})
package resilience
