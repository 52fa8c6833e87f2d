package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cjeanneret/PhotoCam/internal/debug"
	"github.com/cjeanneret/PhotoCam/internal/trigger"
	"github.com/cjeanneret/PhotoCam/internal/web"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(cfgPath *string) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web control page and the shutter button",
		Long: `Starts the PhotoCam web interface on the specified port and, when a
button pin is configured, polls the physical shutter button.

Capture requests from either source go through the same camera: a request
made while a photo is in flight is rejected.`,
		Example: `  # Start server on default port 8080
  photocam serve

  # Start server on custom port with another config
  photocam serve --port 8980 --config configs/studio.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validatePort(port); err != nil {
				return err
			}
			a, err := newApp(*cfgPath, os.LookupEnv)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(cmd.Context(), a, port)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")

	return cmd
}

func serve(ctx context.Context, a *app, port int) error {
	broadcaster := web.NewStatusBroadcaster()
	debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
	defer debug.SetOutput(os.Stdout)
	defer broadcaster.Watch(a.cam)()

	srv := web.NewServer(fmt.Sprintf(":%d", port), broadcaster, a.cam, a.cfg.MinCaptureInterval())
	button := trigger.New(a.gpio, a.cam, triggerConfig(a.cfg))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx)
	})
	g.Go(func() error {
		err := button.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	return g.Wait()
}

// validatePort accepts 1-65535.
func validatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", port)
	}
	return nil
}
