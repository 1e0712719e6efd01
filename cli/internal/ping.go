package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func newPingCommand() *cobra.Command {
	var (
		service string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check the content service's gRPC health endpoint",
		Long:  `Call grpc.health.v1.Health/Check with the stored credentials. An expired token is refreshed on the way, exactly as for content requests.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := getCliContext(cmd).Pipeline
			conn, err := p.DialGRPC()
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			start := time.Now()
			resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
			if err != nil {
				return describeFetchError("health check", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", resp.GetStatus(), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVar(&service, "service", "", "Service name to check (empty checks the whole server)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Deadline for the health check")

	return cmd
}
