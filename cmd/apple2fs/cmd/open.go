package cmd

import (
	"fmt"
	"os"

	"github.com/deploymenttheory/go-apple2fs/core"
)

// resolveImage reads --image and picks a driver: the explicit --driver flag
// if given, otherwise the highest-confidence autodetection result. Refuses
// to guess between two drivers that tie for the highest confidence.
func resolveImage() (*registration, []byte, error) {
	if imagePath == "" {
		return nil, nil, fmt.Errorf("--image is required")
	}
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", imagePath, err)
	}

	regs := registrations()
	if driverName != "" {
		r := findRegistration(regs, driverName)
		if r == nil {
			return nil, nil, fmt.Errorf("unknown driver %q", driverName)
		}
		return r, data, nil
	}

	results := detectAll(data, regs)
	if len(results) == 0 || results[0].Confidence == core.No {
		return nil, nil, fmt.Errorf("no driver recognized %s; pass --driver explicitly", imagePath)
	}
	if len(results) > 1 && results[1].Confidence == results[0].Confidence {
		return nil, nil, fmt.Errorf("ambiguous image: %s and %s both matched with %s confidence; pass --driver explicitly",
			results[0].Driver, results[1].Driver, results[0].Confidence)
	}
	r := findRegistration(regs, results[0].Driver)
	if r == nil {
		return nil, nil, fmt.Errorf("internal error: unregistered driver %q", results[0].Driver)
	}
	return r, data, nil
}

// openVolume resolves the driver for --image and opens it, ready for file
// access. deep is passed to core.Filesystem.PrepareFileAccess; every
// driver walks its full catalog/directory structure whatever its value.
func openVolume(deep bool) (volumeAdapter, *core.Filesystem, error) {
	r, data, err := resolveImage()
	if err != nil {
		return nil, nil, err
	}
	src := r.wrapSource(data, readOnly)
	vol, err := r.newVolume(src)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s as %s: %w", imagePath, r.name, err)
	}
	fs := core.NewFilesystem(vol.Gate(), vol)
	if err := fs.PrepareFileAccess(deep); err != nil {
		return nil, nil, err
	}
	return vol, fs, nil
}
