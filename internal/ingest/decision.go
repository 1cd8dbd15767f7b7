package ingest

import (
	"path/filepath"
	"strings"
)

// transcodeKeepCodecs are codec names (lowercased) left untouched by the
// bitrate/container decision below (spec §4.F step 5).
var transcodeKeepCodecs = map[string]bool{
	"h264": true,
	"avc":  true,
	"hevc": true,
	"h265": true,
}

// transcodeKeepExtensions are container extensions (without the dot,
// lowercased) that do not themselves force a transcode.
var transcodeKeepExtensions = map[string]bool{
	"mp4": true,
	"mkv": true,
}

// targetBitrate computes max(orig/2, min(orig, targetMax)) (spec §4.F step 5).
func targetBitrate(origBitrate, targetMax uint64) uint64 {
	capped := origBitrate
	if targetMax < capped {
		capped = targetMax
	}
	half := origBitrate / 2
	if half > capped {
		return half
	}
	return capped
}

// needsTranscode decides whether srcPath must be re-encoded, per the
// three conditions of spec §4.F step 5: the new bitrate meaningfully
// undercuts the original, or the codec isn't one of the accepted set, or
// the container extension isn't one of the accepted set.
func needsTranscode(srcPath, codec string, origBitrate, newBitrate uint64) bool {
	if newBitrate < origBitrate && float64(origBitrate) > 1.2*float64(newBitrate) {
		return true
	}
	if !transcodeKeepCodecs[strings.ToLower(codec)] {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(srcPath)), ".")
	if !transcodeKeepExtensions[ext] {
		return true
	}
	return false
}
