package capture

import (
	"os/exec"
	"strconv"
	"strings"
)

// ProbeDuration reads the container duration of a finished file in whole
// seconds. Wall-clock elapsed time is not a substitute: a stalled stream can
// record far less media than the capture took. Any probe failure yields 0 so
// the completion path never fails on a bad probe.
func ProbeDuration(binary, path string) int {
	if binary == "" {
		binary = "ffprobe"
	}
	cmd := exec.Command(binary,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil || seconds < 0 {
		return 0
	}
	return int(seconds)
}
