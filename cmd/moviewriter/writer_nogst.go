//go:build !gst

package main

import (
	"errors"

	"github.com/Swind/go-movie-writer/core"
	"github.com/Swind/go-movie-writer/media"
)

func newGstWriter(core.Logger) (media.ContainerWriter, error) {
	return nil, errors.New("built without GStreamer support; rebuild with -tags gst")
}
