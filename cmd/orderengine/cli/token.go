package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/odyssey-erp/order-engine/internal/rbac"
)

// TokenOptions defines available flags for the token command.
type TokenOptions struct {
	ActorID int64
	Name    string
	Role    string
	TTL     time.Duration
	Stdout  io.Writer
	Stderr  io.Writer
}

// TokenCommand signs a bearer token for local testing and operator scripts.
func TokenCommand(auth *rbac.Authenticator, opts TokenOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.ActorID <= 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "token: --id is required and must be positive")
		return 1
	}
	role, err := rbac.ParseRole(opts.Role)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "token: %v\n", err)
		return 1
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	token, err := auth.Sign(rbac.Actor{ID: opts.ActorID, Name: opts.Name, Role: role}, ttl)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "token: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(opts.Stdout, token)
	return 0
}
