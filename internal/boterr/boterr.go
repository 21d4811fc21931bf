// Package boterr implements the error taxonomy from spec.md §7. Loop-layer
// supervisors classify errors via errors.As and map them to a sleep duration;
// everything below the loop layer propagates errors unchanged, the same shape
// as the teacher's CircuitBreaker/StrategyPhase halt-or-continue classification
// in specs/001-liquidity-repositioning/contracts/strategy_api.go.
package boterr

import "fmt"

// TokenNotFound indicates a required token is absent from the current graph.
// Recoverable by retry after a short wait — often transient (a pool refresh away).
type TokenNotFound struct {
	Token string
}

func (e *TokenNotFound) Error() string { return fmt.Sprintf("token not found: %s", e.Token) }

// InvalidPoolSize indicates a pool reported fewer than 2 tokens. Fatal for that
// pool only; the pool is skipped when building the graph.
type InvalidPoolSize struct {
	PoolID int64
	N      int
}

func (e *InvalidPoolSize) Error() string {
	return fmt.Sprintf("pool %d has invalid size %d", e.PoolID, e.N)
}

// UnmatchedTokenPath indicates an internal invariant violation (a composed path
// whose token types don't chain). This is always a bug, never a transient condition.
type UnmatchedTokenPath struct {
	Expected, Got string
}

func (e *UnmatchedTokenPath) Error() string {
	return fmt.Sprintf("unmatched token path: expected %s, got %s", e.Expected, e.Got)
}

// NoValidEdge indicates the goal is unreachable from start in the current graph.
// Non-fatal; the goal is simply dropped from consideration.
type NoValidEdge struct {
	Start, Goal string
}

func (e *NoValidEdge) Error() string {
	return fmt.Sprintf("no valid edge from %s to %s", e.Start, e.Goal)
}

// NotEnoughData indicates too few history points for a prediction request.
// The candidate is skipped, not retried.
type NotEnoughData struct {
	Required, Actual int
}

func (e *NotEnoughData) Error() string {
	return fmt.Sprintf("not enough data: required %d, actual %d", e.Required, e.Actual)
}

// RpcTransient wraps a rate-limit or transport-send error. Retried at the
// transport layer (RpcPool); should rarely escape to loop-level classification.
type RpcTransient struct {
	Method string
	Err    error
}

func (e *RpcTransient) Error() string { return fmt.Sprintf("rpc transient (%s): %v", e.Method, e.Err) }
func (e *RpcTransient) Unwrap() error { return e.Err }

// RpcPermanent wraps a non-retryable RPC error, surfaced to the caller with
// method context.
type RpcPermanent struct {
	Method string
	Err    error
}

func (e *RpcPermanent) Error() string { return fmt.Sprintf("rpc permanent (%s): %v", e.Method, e.Err) }
func (e *RpcPermanent) Unwrap() error { return e.Err }

// TxFailure indicates the transaction broadcast succeeded but execution failed
// on-chain. Surfaced; the swap is counted as failed and the loop continues with
// the next candidate.
type TxFailure struct {
	Status string
}

func (e *TxFailure) Error() string { return fmt.Sprintf("tx execution failed: status=%s", e.Status) }

// ConfigError indicates a fatal configuration problem. Only meaningful at
// process startup; never retried.
type ConfigError struct {
	Detail string
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config error: %s", e.Detail) }
