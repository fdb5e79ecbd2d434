package cli

import (
	"github.com/spf13/cobra"
)

func newServeCommand(g *globals) *cobra.Command {
	var (
		httpAddr    string
		grpcAddr    string
		noGRPC      bool
		maintenance bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP table API, the gRPC catalog service and the maintenance daemon",
		Long: `Serve the table API over HTTP, expose the catalog over gRPC so other
processes can commit with --catalog remote, and run periodic maintenance.
The process stops on SIGINT or SIGTERM after draining in-flight requests.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := g.app.Config()
			if httpAddr != "" {
				cfg.HTTP.Addr = httpAddr
			}
			if grpcAddr != "" {
				cfg.GRPC.Addr = grpcAddr
			}
			if noGRPC {
				cfg.GRPC.Enabled = false
			}
			if cmd.Flags().Changed("maintenance") {
				cfg.Maintenance.Enabled = maintenance
			}
			if err := g.app.Start(cmd.Context()); err != nil {
				_ = g.app.Stop(cmd.Context())
				return err
			}
			return g.app.Wait(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", "", "gRPC listen address")
	cmd.Flags().BoolVar(&noGRPC, "no-grpc", false, "do not serve the catalog over gRPC")
	cmd.Flags().BoolVar(&maintenance, "maintenance", true, "run the maintenance daemon")
	return cmd
}
