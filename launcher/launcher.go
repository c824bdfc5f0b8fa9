// Package launcher starts and stops instances of the service under test.
// Two interchangeable backends are provided: a locally spawned process and a
// docker container.
package launcher

import (
	"context"
	"fmt"
	"net"

	"github.com/hyperspot/e2e-harness/logging"
	"github.com/hyperspot/e2e-harness/types"
)

// Launcher is the capability the orchestrator depends on. It is the only
// component allowed to act on the backend handle it created; a launcher must
// never target an externally started instance, which is what lets the harness
// coexist with a developer's manually started server on another port.
type Launcher interface {
	// Start launches the service with its output attached to the
	// collector's sinks and returns an instance in Starting state.
	Start(ctx context.Context, collector *logging.Collector) (*types.ServiceInstance, error)
	// Stop terminates the instance this launcher created. It is idempotent:
	// stopping an already-stopped instance returns nil.
	Stop(ctx context.Context, instance *types.ServiceInstance) error
}

// probePort verifies the reserved port is free before spawning. The bind
// probe is the enforcement point that keeps two harness runs (or a harness
// run and a dev instance on the same port) from colliding.
func probePort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("port %d is already bound: %w", port, err)
	}
	return ln.Close()
}
