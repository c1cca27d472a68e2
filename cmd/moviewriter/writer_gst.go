//go:build gst

package main

import (
	"github.com/Swind/go-movie-writer/core"
	"github.com/Swind/go-movie-writer/media"
	"github.com/Swind/go-movie-writer/media/gstwriter"
)

func newGstWriter(logger core.Logger) (media.ContainerWriter, error) {
	return gstwriter.New(gstwriter.WithLogger(logger)), nil
}
