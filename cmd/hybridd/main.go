package main

import (
	"log"

	"github.com/spf13/cobra"

	nodecli "github.com/amirimatin/go-consensus/pkg/cli"
)

func main() {
	if err := newRoot().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "hybridd",
		Short:         "go-consensus node daemon and management CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	nodecli.AddAll(root)
	return root
}
