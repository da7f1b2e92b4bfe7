// Package runtime assembles the application context: the stores and
// external collaborators every command operates on. It is constructed
// once at startup, after configuration is loaded, and injected into the
// command tree.
package runtime

import (
	"log/slog"

	"github.com/biogate/biogate-go/internal/artifact"
	"github.com/biogate/biogate-go/internal/conf"
	"github.com/biogate/biogate-go/internal/datastore"
	"github.com/biogate/biogate-go/internal/enroll"
	"github.com/biogate/biogate-go/internal/model"
)

// Build metadata injected at link time.
type Build struct {
	Version   string
	BuildDate string
}

// Context bundles everything a command needs.
type Context struct {
	Settings  *conf.Settings
	DS        datastore.Interface
	Media     *enroll.MediaStore
	Artifacts *artifact.Store
	Collab    model.Collaborators
	Log       *slog.Logger
	Build     Build
}

// NewContext opens the datastore and artifact store for the configured
// data directory. The caller owns the returned context and must Close
// it.
func NewContext(settings *conf.Settings, collab model.Collaborators, log *slog.Logger, build Build) (*Context, error) {
	ds := datastore.New(settings)
	if err := ds.Open(); err != nil {
		return nil, err
	}

	artifacts, err := artifact.NewStore(settings.ModelsDir(), log)
	if err != nil {
		ds.Close()
		return nil, err
	}

	return &Context{
		Settings:  settings,
		DS:        ds,
		Media:     enroll.NewMediaStore(settings.MediaDir()),
		Artifacts: artifacts,
		Collab:    collab,
		Log:       log,
		Build:     build,
	}, nil
}

// Close releases the context's resources.
func (c *Context) Close() error {
	return c.DS.Close()
}
