package render

import "fmt"

type dims struct{ width, height int }

var dimensionTable = map[string]map[string]dims{
	"16:9": {
		"360p":  {640, 360},
		"480p":  {854, 480},
		"720p":  {1280, 720},
		"1080p": {1920, 1080},
	},
	"9:16": {
		"360p":  {360, 640},
		"480p":  {480, 854},
		"720p":  {720, 1280},
		"1080p": {1080, 1920},
	},
	"4:3": {
		"360p":  {480, 360},
		"480p":  {640, 480},
		"720p":  {960, 720},
		"1080p": {1440, 1080},
	},
}

// Dimensions returns the renderer resolution argument ("width,height") for an aspect
// ratio and resolution pair.
func Dimensions(aspectRatio, resolution string) (string, error) {
	d, ok := dimensionTable[aspectRatio][resolution]
	if !ok {
		return "", fmt.Errorf("unsupported combination: %s at %s", aspectRatio, resolution)
	}
	return fmt.Sprintf("%d,%d", d.width, d.height), nil
}
