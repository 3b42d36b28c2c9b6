// Package vfs is the virtual filesystem: one ordered namespace built from
// loose directories and archives under a base and a home path, with a
// bounded handle table, pure-mode filtering and checksum negotiation.
//
// An FS is single-threaded. Callers that share one across goroutines must
// serialize every call.
package vfs

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/sunumi/pakfs/internal/archive"
	"github.com/sunumi/pakfs/internal/fserr"
	"github.com/sunumi/pakfs/internal/handle"
	"github.com/sunumi/pakfs/internal/metrics"
	"github.com/sunumi/pakfs/internal/pure"
	"github.com/sunumi/pakfs/internal/qpath"
	"github.com/sunumi/pakfs/internal/searchpath"
)

// Options configures an FS.
type Options struct {
	BasePath      string // read-only install root
	HomePath      string // writable root; defaults to BasePath
	BaseGame      string // base game directory, e.g. "baseq3"
	ExtraBaseGame string // optional second base directory stacked above BaseGame
	Game          string // optional mod directory stacked above both

	MaxHandles int // handle table capacity
	SeekBuffer int // scratch size for archive seek emulation

	ArchiveExt    string // ".pk3"
	ArchiveDirExt string // ".pk3dir"

	DefaultConfig        string // probed after every restart
	RequireDefaultConfig bool

	ProtectedExts    []string // extensions that may never be written, renamed or removed
	LocalOnlyConfigs []string // names never served from archives
	NativeSuffix     string   // arch + library extension for native modules

	Policy  pure.Policy
	Debug   bool
	Logger  zerolog.Logger
	Metrics *metrics.FSMetrics
}

func (o *Options) setDefaults() {
	if o.HomePath == "" {
		o.HomePath = o.BasePath
	}
	if o.BaseGame == "" {
		o.BaseGame = "baseq3"
	}
	if o.MaxHandles <= 0 {
		o.MaxHandles = handle.DefaultCapacity
	}
	if o.SeekBuffer <= 0 {
		o.SeekBuffer = handle.DefaultScratchSize
	}
	if o.ArchiveExt == "" {
		o.ArchiveExt = ".pk3"
	}
	if o.ArchiveDirExt == "" {
		o.ArchiveDirExt = o.ArchiveExt + "dir"
	}
	if o.DefaultConfig == "" {
		o.DefaultConfig = "default.cfg"
	}
	if o.ProtectedExts == nil {
		o.ProtectedExts = []string{o.ArchiveExt, ".qvm", nativeExt()}
	}
	if o.LocalOnlyConfigs == nil {
		o.LocalOnlyConfigs = []string{"autoexec.cfg", "q3config.cfg"}
	}
	if o.NativeSuffix == "" {
		o.NativeSuffix = nativeArch() + nativeExt()
	}
	if o.Policy.ClientModules == nil && o.Policy.LooseExts == nil {
		o.Policy = pure.DefaultPolicy()
	}
}

type validState struct {
	basePath      string
	baseGame      string
	extraBaseGame string
	game          string
}

// FS is the filesystem state. The zero value is not usable; call New and
// then Startup.
type FS struct {
	opts    Options
	logger  zerolog.Logger
	metrics *metrics.FSMetrics

	chain     *searchpath.Chain // nil until Startup
	handles   *handle.Table
	validator *pure.Validator

	salt         int32
	gameDir      string // writable game directory
	gameModified bool
	reordered    bool
	lastValid    *validState
}

// New returns a filesystem that is not yet started.
func New(opts Options) *FS {
	opts.setDefaults()
	logger := opts.Logger.With().Str("component", "vfs").Logger()
	m := opts.Metrics
	if m == nil {
		m = metrics.NewFSMetrics(prometheus.NewRegistry(), opts.BaseGame)
	}
	return &FS{
		opts:      opts,
		logger:    logger,
		metrics:   m,
		validator: pure.NewValidator(opts.Policy, opts.Logger),
	}
}

// Initialized reports whether Startup has completed.
func (fs *FS) Initialized() bool {
	return fs.chain != nil
}

func (fs *FS) mustInit(op string) {
	if fs.chain == nil {
		fserr.Fatal(op, fserr.ErrNotInitialized)
	}
}

// Salt returns the checksum salt of the current session.
func (fs *FS) Salt() int32 {
	return fs.salt
}

// GameDir returns the writable game directory.
func (fs *FS) GameDir() string {
	return fs.gameDir
}

// Options returns the effective options.
func (fs *FS) Options() Options {
	return fs.opts
}

// SetGame selects the mod directory used by the next restart.
func (fs *FS) SetGame(game string) {
	if !qpath.Equal(game, fs.opts.Game) {
		fs.opts.Game = game
		fs.gameModified = true
	}
}

// Startup builds the search path with the given salt. Base game layers are
// added first and the mod last, so the mod wins. When a default config is
// required but unreachable, Startup leaves the filesystem running and
// returns fserr.ErrMissingContent.
func (fs *FS) Startup(salt int32) error {
	if fs.chain != nil {
		return errors.New("filesystem already started")
	}
	fs.salt = salt
	fs.chain = searchpath.New(searchpath.Options{
		ArchiveExt:    fs.opts.ArchiveExt,
		ArchiveDirExt: fs.opts.ArchiveDirExt,
		Logger:        fs.opts.Logger,
	})
	fs.handles = handle.New(fs.opts.MaxHandles, fs.opts.SeekBuffer)
	fs.reordered = false
	fs.gameModified = false

	fs.gameDir = fs.opts.BaseGame
	fs.addGameDirectory(fs.opts.BaseGame)
	if g := fs.opts.ExtraBaseGame; g != "" && !qpath.Equal(g, fs.opts.BaseGame) {
		fs.addGameDirectory(g)
	}
	if g := fs.opts.Game; g != "" && !qpath.Equal(g, fs.opts.BaseGame) {
		fs.addGameDirectory(g)
		fs.gameDir = g
	}

	if fs.validator.Restricted() {
		fs.reorder()
	}

	archives := fs.chain.Archives()
	files := 0
	for _, a := range archives {
		files += a.NumFiles()
	}
	fs.metrics.ArchivesLoaded.Set(float64(len(archives)))
	fs.metrics.ArchiveFiles.Set(float64(files))
	fs.metrics.OpenHandles.Set(0)

	fs.logger.Info().
		Str("game", fs.gameDir).
		Int("layers", fs.chain.Len()).
		Int("archives", len(archives)).
		Int("files", files).
		Msg("filesystem started")

	if fs.opts.RequireDefaultConfig && !fs.Exists(fs.opts.DefaultConfig) {
		return fmt.Errorf("%w: %s not found", fserr.ErrMissingContent, fs.opts.DefaultConfig)
	}
	fs.lastValid = &validState{
		basePath:      fs.opts.BasePath,
		baseGame:      fs.opts.BaseGame,
		extraBaseGame: fs.opts.ExtraBaseGame,
		game:          fs.opts.Game,
	}
	return nil
}

// addGameDirectory stacks base/game and then home/game.
func (fs *FS) addGameDirectory(game string) {
	pureActive := fs.validator.Restricted()
	res := fs.chain.AddLayer(fs.opts.BasePath, game, fs.salt, pureActive)
	fs.metrics.ArchiveLoadFailures.Add(float64(res.Failed))
	if fs.opts.HomePath != "" && !qpath.Equal(fs.opts.HomePath, fs.opts.BasePath) {
		res = fs.chain.AddLayer(fs.opts.HomePath, game, fs.salt, pureActive)
		fs.metrics.ArchiveLoadFailures.Add(float64(res.Failed))
	}
}

// Shutdown closes every handle and archive. Calls other than Startup and
// Restart are fatal until the filesystem is started again.
func (fs *FS) Shutdown() error {
	if fs.chain == nil {
		return nil
	}
	herr := fs.handles.CloseAll()
	cerr := fs.chain.Close()
	fs.chain = nil
	fs.handles = nil
	fs.metrics.OpenHandles.Set(0)
	fs.logger.Debug().Msg("filesystem shut down")
	return errors.Join(herr, cerr)
}

// Restart shuts down and starts again with a new salt. The authority lists
// survive. If the default config is required and missing after the restart,
// the pure restriction is lifted, the last configuration that worked is
// restored and started, and fserr.ErrMissingContent is returned.
func (fs *FS) Restart(salt int32) error {
	if err := fs.Shutdown(); err != nil {
		fs.logger.Warn().Err(err).Msg("errors during shutdown")
	}
	fs.metrics.RestartsTotal.Inc()

	err := fs.Startup(salt)
	if err == nil || !errors.Is(err, fserr.ErrMissingContent) {
		return err
	}
	last := fs.lastValid
	if last == nil {
		return err
	}
	fs.lastValid = nil
	fs.logger.Warn().Str("game", fs.opts.Game).Msg("invalid game folder, reverting")

	fs.validator.SetLoaded(nil, nil)
	fs.opts.BasePath = last.basePath
	fs.opts.BaseGame = last.baseGame
	fs.opts.ExtraBaseGame = last.extraBaseGame
	fs.opts.Game = last.game
	if rerr := fs.Restart(salt); rerr != nil {
		return rerr
	}
	return fmt.Errorf("%w: invalid game folder", fserr.ErrMissingContent)
}

// ConditionalRestart restarts when the game directory or the salt changed.
// Otherwise it applies a pending pure reorder. It reports whether a restart
// happened.
func (fs *FS) ConditionalRestart(salt int32) (bool, error) {
	if fs.gameModified || salt != fs.salt || fs.chain == nil {
		return true, fs.Restart(salt)
	}
	if fs.validator.Restricted() && !fs.reordered {
		fs.reorder()
	}
	return false, nil
}

func (fs *FS) reorder() {
	if fs.chain.Reorder(fs.validator.Loaded()) {
		fs.reordered = true
		fs.logger.Debug().Msg("search path reordered for pure list")
	}
}

// lookupFilter combines the pure restriction with the local-only configs.
type lookupFilter struct {
	fs *FS
}

func (f lookupFilter) ArchiveAllowed(a *archive.Archive, name string) bool {
	for _, cfg := range f.fs.opts.LocalOnlyConfigs {
		if qpath.Equal(name, cfg) {
			return false
		}
	}
	return f.fs.validator.IsPure(a)
}

func (f lookupFilter) LooseAllowed(name string) bool {
	return f.fs.validator.LooseAllowed(name)
}
