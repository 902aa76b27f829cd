package review

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"review-montage/internal/api"
)

var (
	siUnits  = []string{"kB", "MB", "GB", "TB", "PB", "EB", "ZB", "YB"}
	iecUnits = []string{"KiB", "MiB", "GiB", "TiB", "PiB", "EiB", "ZiB", "YiB"}

	unsafeFilename = regexp.MustCompile(`(?i)[^a-z0-9]`)
)

// HumanFileSize formats a byte count with dp decimal places, in powers of
// 1000 when si is set and powers of 1024 otherwise.
func HumanFileSize(bytes int64, si bool, dp int) string {
	thresh := 1024.0
	units := iecUnits
	if si {
		thresh = 1000
		units = siUnits
	}

	b := float64(bytes)
	if math.Abs(b) < thresh {
		return strconv.FormatInt(bytes, 10) + " B"
	}

	r := math.Pow(10, float64(dp))
	u := -1
	for {
		b /= thresh
		u++
		if math.Round(math.Abs(b)*r)/r < thresh || u >= len(units)-1 {
			break
		}
	}
	return strconv.FormatFloat(b, 'f', dp, 64) + " " + units[u]
}

// FormatRuntime renders a runtime in seconds as mm:ss, or hh:mm:ss from one
// hour up. Fractions of a second are dropped.
func FormatRuntime(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	d := time.Duration(seconds * float64(time.Second)).Truncate(time.Second)
	h := int64(d / time.Hour)
	m := int64(d%time.Hour) / int64(time.Minute)
	s := int64(d%time.Minute) / int64(time.Second)
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// DownloadFilename names a downloaded clip after its monitor and event, e.g.
// "front_door_42.mp4".
func DownloadFilename(monitorName string, id api.EventID) string {
	safe := strings.ToLower(unsafeFilename.ReplaceAllString(monitorName, "_"))
	return safe + "_" + strconv.FormatInt(int64(id), 10) + ".mp4"
}
