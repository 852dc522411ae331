package rollback

import "context"

type ConvergenceStatus string

const (
	ConvergencePending   ConvergenceStatus = "PENDING"
	ConvergenceConverged ConvergenceStatus = "CONVERGED"
	ConvergenceFailed    ConvergenceStatus = "FAILED"
)

// Deployer is the external deployment collaborator. The control loop never
// provisions or deploys anything itself; it only asks the collaborator to
// swap back to the previous version and watches for convergence.
type Deployer interface {
	HealthyTargetCount(ctx context.Context, target string) (int, error)
	RollbackToPrevious(ctx context.Context, target string) (handle string, err error)
	PollConvergence(ctx context.Context, handle string) (ConvergenceStatus, error)
}
