//go:build !linux

package engine

import (
	"context"
	"fmt"
)

type stubRunner struct{}

func NewRunner() Runner {
	return stubRunner{}
}

func (stubRunner) Run(ctx context.Context, c Command) (Outcome, error) {
	return Outcome{}, fmt.Errorf("host sandbox engine is only supported on linux")
}
