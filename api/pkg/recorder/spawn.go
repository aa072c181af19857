package recorder

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/rs/zerolog/log"
)

// FFmpegSpawner builds the production EncoderSpawner: ffmpeg's x11grab
// device capturing the configured display/resolution/fps into each part
// file, grounded on automation/recorder/ffmpeg.py's FFMpegRecorder.start.
func FFmpegSpawner(display, resolution string, fps int) EncoderSpawner {
	return func(outputPath string) (*os.Process, error) {
		cmd := exec.Command("ffmpeg",
			"-y",
			"-f", "x11grab",
			"-draw_mouse", "1",
			"-r", fmt.Sprintf("%d", fps),
			"-s", resolution,
			"-i", display,
			"-c:v", "libx264",
			"-preset", "ultrafast",
			"-crf", "23",
			"-pix_fmt", "yuv420p",
			outputPath,
		)
		log.Info().Strs("cmd", cmd.Args).Msg("starting ffmpeg encoder")
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		return cmd.Process, nil
	}
}
