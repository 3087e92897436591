package session

import "context"

// ExternalPool is a shared external resource a top-level session owns on
// behalf of itself and any subagents it spawns — a connection pool, process
// group, or similar — torn down exactly once, by the depth-0 session, on
// Close. Generalised from the teacher's MCP connection-pool
// ownership flag (original_source's `owns_mcp_pool`/`start_shutdown`),
// which spec.md §4.8/§5 describes only in prose ("owns shared external
// resources... tears them down on close"); this type makes that concrete
// without committing to MCP specifically, since MCP itself is out of this
// spec's scope.
type ExternalPool interface {
	Shutdown(ctx context.Context) error
}
