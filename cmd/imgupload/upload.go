package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	imageuploader "github.com/Skryldev/image-uploader"
	"github.com/Skryldev/image-uploader/core"
	"github.com/Skryldev/image-uploader/hooks"
	"github.com/Skryldev/image-uploader/persist"
)

type uploadFlags struct {
	category   string
	crop       string
	rotate     float64
	flipH      bool
	flipV      bool
	round      bool
	maxRetries int
}

func (a *app) newUploadCmd() *cobra.Command {
	var f uploadFlags
	cmd := &cobra.Command{
		Use:   "upload <file|url>...",
		Short: "Preprocess and upload images, printing their remote URLs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := f.cropSpec()
			if err != nil {
				return err
			}
			return a.runUpload(cmd.Context(), args, f, spec)
		},
	}
	cmd.Flags().StringVar(&f.category, "category", "", "record category (default \"general\")")
	cmd.Flags().StringVar(&f.crop, "crop", "", "crop rectangle x,y,width,height in rotated-image pixels")
	cmd.Flags().Float64Var(&f.rotate, "rotate", 0, "rotation in degrees, -180..180 (requires --crop)")
	cmd.Flags().BoolVar(&f.flipH, "flip-h", false, "mirror horizontally (requires --crop)")
	cmd.Flags().BoolVar(&f.flipV, "flip-v", false, "mirror vertically (requires --crop)")
	cmd.Flags().BoolVar(&f.round, "round", false, "mark the crop as round (presentation only)")
	cmd.Flags().IntVar(&f.maxRetries, "max-retries", -1, "per-provider retry budget (default from config)")
	return cmd
}

func (f uploadFlags) cropSpec() (*core.CropSpec, error) {
	if f.crop == "" {
		if f.rotate != 0 || f.flipH || f.flipV || f.round {
			return nil, errors.New("--rotate, --flip-h, --flip-v and --round need --crop")
		}
		return nil, nil
	}
	rect, err := parseRect(f.crop)
	if err != nil {
		return nil, err
	}
	spec := &core.CropSpec{
		Rect:            rect,
		RotationDegrees: f.rotate,
		Flip:            core.Flip{Horizontal: f.flipH, Vertical: f.flipV},
		Shape:           core.ShapeRect,
	}
	if f.round {
		spec.Shape = core.ShapeRound
	}
	return spec, nil
}

func parseRect(s string) (core.Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return core.Rect{}, fmt.Errorf("crop %q: want x,y,width,height", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return core.Rect{}, fmt.Errorf("crop %q: %w", s, err)
		}
		v[i] = n
	}
	return core.Rect{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}

func (a *app) runUpload(ctx context.Context, args []string, f uploadFlags, spec *core.CropSpec) error {
	sink := hooks.NewChannelSink(64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sink.Events() {
			a.logger.Debug().
				Str("service", ev.Service).
				Str("status", string(ev.Status)).
				Int("attempt", ev.Attempt).
				Int("percent", ev.Percentage).
				Msg("progress")
		}
	}()
	defer func() {
		sink.Close()
		<-done
	}()

	up, err := a.open(ctx, imageuploader.Deps{Progress: sink})
	if err != nil {
		return err
	}
	defer up.Close()

	var failed int
	for _, arg := range args {
		src, closer, err := openSource(ctx, arg)
		if err != nil {
			a.logger.Error().Err(err).Str("input", arg).Msg("open failed")
			failed++
			continue
		}
		req := imageuploader.Request{Source: src, Crop: spec, Category: f.category}
		if f.maxRetries >= 0 {
			n := f.maxRetries
			req.MaxRetries = &n
		}
		resp, err := up.Upload(ctx, req)
		closer.Close()

		var pe *persist.PersistError
		switch {
		case err == nil:
			fmt.Fprintf(a.stdout, "%s\t%s\t%s\n", arg, resp.Result.ProviderName, resp.Result.RemoteURL)
		case errors.As(err, &pe):
			fmt.Fprintf(a.stdout, "%s\t%s\t%s\t(not recorded)\n", arg, resp.Result.ProviderName, resp.Result.RemoteURL)
			a.logger.Warn().Err(err).Str("input", arg).Msg("record store rejected the upload")
			failed++
		default:
			a.logger.Error().Err(err).Str("input", arg).Msg("upload failed")
			failed++
		}
		if ctx.Err() != nil {
			break
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(args))
	}
	return nil
}

func openSource(ctx context.Context, arg string) (core.Source, io.Closer, error) {
	if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
		return imageuploader.FromURL(ctx, nil, arg)
	}
	return imageuploader.FromFile(arg)
}
