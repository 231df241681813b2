package tools

import "context"

// Runner port: executes a single attempt of a single tool. Retry and
// worker scheduling live above this interface so a fake runner can stand
// in for subprocess execution in tests.
type Runner interface {
	Run(ctx context.Context, def Definition) Attempt
}
