package encoder

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/grafov/m3u8"
)

// VerifyPlaylist checks that an HLS export is a closed VOD playlist whose
// segments add up to want within tolerance.
func VerifyPlaylist(path string, want, tolerance time.Duration) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open playlist: %w", err)
	}
	defer f.Close()

	pl, kind, err := m3u8.DecodeFrom(f, true)
	if err != nil {
		return fmt.Errorf("failed to decode playlist %s: %w", path, err)
	}
	if kind != m3u8.MEDIA {
		return fmt.Errorf("playlist %s is not a media playlist", path)
	}
	media := pl.(*m3u8.MediaPlaylist)
	if media.MediaType != m3u8.VOD {
		return fmt.Errorf("playlist %s is not VOD", path)
	}
	if !media.Closed {
		return fmt.Errorf("playlist %s has no end marker", path)
	}

	var total float64
	n := 0
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		total += seg.Duration
		n++
	}
	if n == 0 {
		return fmt.Errorf("playlist %s has no segments", path)
	}
	got := time.Duration(total * float64(time.Second))
	if math.Abs(float64(got-want)) > float64(tolerance) {
		return fmt.Errorf("playlist %s lasts %v, want %v ± %v", path, got, want, tolerance)
	}
	return nil
}
