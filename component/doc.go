// Package component defines the lifecycle and discovery contracts shared
// by the runtime pieces of rtl433-ha: the process supervisor, the
// ingestion coordinator, and the optional event publishers. The
// lifecycle follows one pattern everywhere:
//
//	Initialize() error                  // setup/validate only, no context
//	Start(ctx context.Context) error    // start with context passed through
//	Stop(timeout time.Duration) error   // graceful stop bounded by timeout
//
// Components never store the context they are started with; the owner
// (cmd/rtl433d) creates a child context per component and cancels it
// during shutdown.
package component
