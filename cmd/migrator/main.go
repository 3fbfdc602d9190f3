// Command migrator applies revision chains to tenant namespaces and the
// shared namespace.
//
// Usage:
//
//	migrator upgrade --tenants all --workers 4
//	migrator upgrade --tenants '[0,50)' --target 3f2a91c0 --continue-on-error
//	migrator downgrade --tenants tenant_acme --target base
//	migrator public upgrade
//	migrator current --tenants all
//	migrator drift --reference tenant_template
//	migrator history --limit 20
//	migrator gen-sql --dialect mysql --output migrations
//
// Exit status is 0 when every selected namespace reached the target, 1 when
// the run was incomplete and 2 when it was rejected before touching any
// namespace.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Exit statuses.
const (
	exitOK         = 0
	exitIncomplete = 1
	exitFatal      = 2
)

// incompleteError marks a run that finished with failed or skipped namespaces.
type incompleteError struct {
	summary string
}

func (e *incompleteError) Error() string {
	return e.summary
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var inc *incompleteError
	if errors.As(err, &inc) {
		return exitIncomplete
	}
	return exitFatal
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	stop()
	os.Exit(exitCode(err))
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "migrator",
		Short:         "Multi-tenant schema migrations",
		Long:          "Applies an ordered chain of schema revisions across isolated tenant namespaces and a shared public namespace.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (default: ./migrator.yaml if present)")

	root.AddCommand(
		newMigrateCmd("upgrade", "Upgrade tenant namespaces", &configFile),
		newMigrateCmd("downgrade", "Downgrade tenant namespaces", &configFile),
		newCurrentCmd(&configFile),
		newPublicCmd(&configFile),
		newDriftCmd(&configFile),
		newHistoryCmd(&configFile),
		newGenSQLCmd(),
		newVersionCmd(),
	)
	return root
}
