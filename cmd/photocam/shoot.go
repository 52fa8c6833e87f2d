package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cjeanneret/PhotoCam/internal/photocam"
	"github.com/spf13/cobra"
)

var errNotCaptured = errors.New("capture did not reach the shutter (see log)")

func newShootCmd(cfgPath *string) *cobra.Command {
	var (
		timeout time.Duration
		output  string
	)

	cmd := &cobra.Command{
		Use:   "shoot",
		Short: "Take one photo and exit",
		Long: `Takes a single photo with the configured camera and waits until the
capture session is released.

In memory mode the camera pose is printed and the JPEG can be written with
--output. In disk mode the photo is written to picture_dir.`,
		Example: `  # Take one photo into memory and keep the JPEG
  photocam shoot --output last.jpg

  # Take one photo straight to disk
  PHOTOCAM_SAVE_TO_DISK=true photocam shoot`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*cfgPath, os.LookupEnv)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := shoot(cmd.Context(), a.cam, timeout)
			if err != nil {
				return err
			}
			return report(cmd.OutOrStdout(), res, output)
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 30*time.Second, "maximum time to wait for the capture")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the in-memory JPEG to this file")

	return cmd
}

type shotResult struct {
	Event   photocam.Event
	Plan    photocam.ShootingPlan
	HasPlan bool
}

// shoot runs one capture attempt and waits for the camera to be idle again.
func shoot(ctx context.Context, cam *photocam.Camera, timeout time.Duration) (shotResult, error) {
	var (
		mu       sync.Mutex
		res      shotResult
		captured bool
	)
	defer cam.OnCaptured(func(e photocam.Event) {
		mu.Lock()
		res.Event = e
		captured = true
		mu.Unlock()
	})()

	if !cam.RequestCapture() {
		return res, errors.New("capture already in progress")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := cam.WaitIdle(ctx); err != nil {
		return res, fmt.Errorf("waiting for capture: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !captured {
		return res, errNotCaptured
	}
	if res.Event.Err != nil {
		return res, res.Event.Err
	}
	res.Plan, res.HasPlan = cam.Plan()
	return res, nil
}

func report(w io.Writer, res shotResult, output string) error {
	if !res.HasPlan {
		fmt.Fprintf(w, "Saved %s\n", res.Event.Path)
		return nil
	}
	p := res.Plan
	fmt.Fprintf(w, "Captured %s JPEG (%d bytes)\n", p.CameraResolution, len(p.ImageBuffer))
	fmt.Fprintf(w, "Camera position: %.3f %.3f %.3f\n", p.CameraPosition.X(), p.CameraPosition.Y(), p.CameraPosition.Z())
	if output == "" {
		return nil
	}
	if err := os.WriteFile(output, p.ImageBuffer, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}
	fmt.Fprintf(w, "Wrote %s\n", output)
	return nil
}
