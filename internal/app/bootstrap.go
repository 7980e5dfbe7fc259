package app

import (
	"context"
	"fmt"

	"github.com/conneroisu/convey/internal/config"
	"github.com/conneroisu/convey/internal/controller"
	"github.com/conneroisu/convey/internal/logging"
	"github.com/conneroisu/convey/internal/registry"
)

// Boot is what a bootstrap callback may configure. Registry is the registry
// of the state being built, not the one serving requests.
type Boot struct {
	Config      *config.Config
	Registry    *registry.Registry
	Controllers *controller.Registry
	Logger      logging.Logger
}

// BootstrapFunc initializes part of the application.
type BootstrapFunc func(ctx context.Context, b *Boot) error

// Bootstrap is a named initialization callback.
type Bootstrap struct {
	Name string
	Fn   BootstrapFunc
}

// AddBootstrap appends a callback. Callbacks run in registration order at
// Init and on every reload.
func (a *App) AddBootstrap(name string, fn BootstrapFunc) {
	a.bootstraps = append(a.bootstraps, Bootstrap{Name: name, Fn: fn})
}

func (a *App) runBootstraps(ctx context.Context, b *Boot) error {
	for _, bs := range a.bootstraps {
		op := logging.StartOperation(a.logger, "bootstrap "+bs.Name)
		if err := bs.Fn(ctx, b); err != nil {
			op.EndWithError(ctx, err)
			return fmt.Errorf("bootstrap %s: %w", bs.Name, err)
		}
		op.End(ctx)
	}
	return nil
}
