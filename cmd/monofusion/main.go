// Package main runs the live reconstruction pipeline against a webcam.
//
// While running, single-character commands are read from stdin:
// "k" promotes the current frame to a keyframe, "b" triggers a batch
// reconstruction, "s" exports the current snapshot, "q" quits. The
// final snapshot is exported on shutdown.
package main

import (
	"bufio"
	"context"
	"flag"
	"os"
	"strings"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/viam-labs/monofusion/camera"
	"github.com/viam-labs/monofusion/recon"
)

var logger = golog.NewDevelopmentLogger("monofusion")

func main() {
	goutils.ContextualMain(mainWithArgs, logger)
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	flags := flag.NewFlagSet(args[0], flag.ContinueOnError)
	device := flags.String("device", "/dev/video0", "video device to capture from")
	width := flags.Int("width", 640, "requested capture width")
	height := flags.Int("height", 480, "requested capture height")
	outDir := flags.String("out", ".", "directory snapshots are exported to")
	if err := flags.Parse(args[1:]); err != nil {
		return err
	}

	src, err := camera.OpenWebcam(*device, *width, *height)
	if err != nil {
		return errors.Wrap(err, "cannot open capture device")
	}
	frames := camera.NewFrameSource(src, logger)

	sink := recon.NewChannelSink(4)
	pipeline := recon.NewPipeline(frames, sink, recon.DefaultPipelineConfig(), logger)
	pipeline.Start(ctx)
	defer func() {
		if err := pipeline.Stop(); err != nil {
			logger.Errorw("problem stopping pipeline", "error", err)
		}
	}()

	commands := make(chan string)
	goutils.PanicCapturingGo(func() {
		defer close(commands)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			commands <- strings.TrimSpace(scanner.Text())
		}
	})

	export := func() {
		res := recon.Result{Cloud: pipeline.Snapshot()}
		written, err := recon.ExportResult(res, *outDir)
		if err != nil {
			logger.Errorw("cannot export snapshot", "error", err)
			return
		}
		logger.Infow("snapshot exported", "files", written)
	}
	defer export()

	for {
		select {
		case <-ctx.Done():
			return nil
		case res, ok := <-sink.Results():
			if !ok {
				continue
			}
			logger.Debugw("reconstruction updated", "points", res.Cloud.Size(), "mesh", res.Mesh != nil)
		case cmd, ok := <-commands:
			if !ok {
				return nil
			}
			switch cmd {
			case "k":
				if err := pipeline.PromoteKeyframe(); err != nil {
					logger.Warnw("cannot promote keyframe", "error", err)
				} else {
					logger.Infow("keyframe promoted", "total", pipeline.NumKeyframes())
				}
			case "b":
				if err := pipeline.TriggerBatch(ctx); err != nil {
					logger.Warnw("cannot start batch reconstruction", "error", err)
				}
			case "s":
				export()
			case "q":
				return nil
			default:
				logger.Infow("unknown command", "command", cmd)
			}
		}
	}
}
