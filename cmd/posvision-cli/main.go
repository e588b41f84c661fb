// Package main is the posvision command line tool. It talks to the detection
// service directly, without the console.
package main

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"posvision/internal/auth"
	"posvision/internal/config"
	"posvision/internal/detection"
	"posvision/internal/frame"
	"posvision/internal/logging"
	"posvision/internal/overlay"
	"posvision/internal/state"
)

const (
	flagInferURL = "infer-url"
	flagTimeout  = "timeout"
	flagOverlay  = "overlay"
	flagWidth    = "width"
	flagHeight   = "height"
	flagDebug    = "debug"
)

func main() {
	var logger *zap.SugaredLogger

	app := &cli.App{
		Name:            "posvision-cli",
		Usage:           "run tray detections from the command line",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagInferURL,
				EnvVars: []string{"INFER_URL"},
				Value:   config.DefaultInferURL,
				Usage:   "base URL of the detection service",
			},
			&cli.DurationFlag{
				Name:  flagTimeout,
				Value: 30 * time.Second,
				Usage: "request timeout",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			if !c.Bool(flagDebug) {
				logger = zap.NewNop().Sugar()
				return nil
			}
			l, _, err := logging.New(logging.Options{Level: "debug"})
			if err != nil {
				return err
			}
			logger = l
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "infer",
				Usage:     "detect items in an image file",
				ArgsUsage: "<image>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagOverlay,
						Usage: "write the image with its overlay to `FILE`",
					},
					&cli.IntFlag{
						Name:  flagWidth,
						Usage: "overlay width (defaults to the image width)",
					},
					&cli.IntFlag{
						Name:  flagHeight,
						Usage: "overlay height (defaults to the image height)",
					},
				},
				Action: func(c *cli.Context) error {
					return inferAction(c, newClient(c, logger))
				},
			},
			{
				Name:  "health",
				Usage: "check the detection service",
				Action: func(c *cli.Context) error {
					health, err := newClient(c, logger).Health(c.Context)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "%s\n", health.Status)
					return nil
				},
			},
			{
				Name:      "hash-password",
				Usage:     "print a bcrypt hash usable as AUTH_PASSWORD",
				ArgsUsage: "<password>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return errors.New("expected exactly one password")
					}
					hash, err := auth.HashPassword(c.Args().First())
					if err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, hash)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(c *cli.Context, logger *zap.SugaredLogger) *detection.Client {
	return detection.NewClient(c.String(flagInferURL), logger.Named("inference"),
		detection.WithTimeout(c.Duration(flagTimeout)))
}

func inferAction(c *cli.Context, client *detection.Client) error {
	if c.NArg() != 1 {
		return errors.New("expected exactly one image path")
	}
	path := c.Args().First()

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", path)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return errors.Wrapf(err, "failed to decode %s", path)
	}

	payload := &frame.Payload{
		Data:        data,
		Filename:    filepath.Base(path),
		ContentType: http.DetectContentType(data),
		Width:       img.Bounds().Dx(),
		Height:      img.Bounds().Dy(),
	}
	result, err := client.Infer(c.Context, payload)
	if err != nil {
		return err
	}

	store := state.NewStore()
	store.SetResult(result)
	snap := store.Snapshot()

	fmt.Fprintf(c.App.Writer, "%s (%s)\n", snap.Status, snap.Latency)
	for _, item := range snap.Items {
		fmt.Fprintf(c.App.Writer, "%s - %s\n", item.Label, item.Confidence)
	}

	out := c.String(flagOverlay)
	if out == "" {
		return nil
	}
	width, height := c.Int(flagWidth), c.Int(flagHeight)
	if width <= 0 {
		width = payload.Width
	}
	if height <= 0 {
		height = payload.Height
	}
	if err := imaging.Save(overlay.Compose(img, result, width, height), out); err != nil {
		return errors.Wrapf(err, "failed to write %s", out)
	}
	fmt.Fprintf(c.App.Writer, "overlay written to %s\n", out)
	return nil
}

