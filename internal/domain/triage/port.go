package triage

import (
	"context"

	"github.com/scanmux/scanmux/internal/domain/findings"
)

// Client port for the remediation-advice provider.
type Client interface {
	Advise(ctx context.Context, f *findings.Annotated) (string, error)
}

// Repository port for persisting and querying advice
type Repository interface {
	Save(ctx context.Context, a *Advice) error
	LatestByFinding(ctx context.Context, scanID, fingerprint string) (*Advice, error)
}
