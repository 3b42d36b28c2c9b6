package export

import (
	"context"
	"net"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/rs/zerolog"
	nfs "github.com/willscott/go-nfs"
	"github.com/willscott/go-nfs/helpers"
)

// DefaultCacheHandles bounds the NFS file handle cache.
const DefaultCacheHandles = 1024

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	// Name is the export path accepted besides "/", e.g. "/baseq3".
	Name string
	// AllowedNets restricts clients; empty allows everyone.
	AllowedNets  []*net.IPNet
	CacheHandles int
	Logger       zerolog.Logger
}

// Handler implements nfs.Handler for one Filesystem.
type Handler struct {
	fs           *Filesystem
	name         string
	nets         []*net.IPNet
	cachingLimit int
	logger       zerolog.Logger

	// Internal handler wrapping
	inner nfs.Handler
}

// NewHandler creates a new NFS handler serving fs.
func NewHandler(fs *Filesystem, opts HandlerOptions) *Handler {
	limit := opts.CacheHandles
	if limit <= 0 {
		limit = DefaultCacheHandles
	}
	name := path.Clean("/" + opts.Name)
	return &Handler{
		fs:           fs,
		name:         name,
		nets:         opts.AllowedNets,
		cachingLimit: limit,
		logger:       opts.Logger.With().Str("component", "nfs").Logger(),
		inner:        helpers.NewCachingHandler(helpers.NewNullAuthHandler(fs), limit),
	}
}

// allowed reports whether the client address may mount.
func (h *Handler) allowed(addr net.Addr) bool {
	if len(h.nets) == 0 {
		return true
	}
	var ip net.IP
	switch a := addr.(type) {
	case *net.TCPAddr:
		ip = a.IP
	case *net.UDPAddr:
		ip = a.IP
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return false
		}
		ip = net.ParseIP(host)
	}
	if ip == nil {
		return false
	}
	for _, n := range h.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Mount handles NFS mount requests. The root and the export name mount the
// whole search path; a path below the export name mounts that subtree.
func (h *Handler) Mount(ctx context.Context, conn net.Conn, req nfs.MountRequest) (nfs.MountStatus, billy.Filesystem, []nfs.AuthFlavor) {
	dirpath := path.Clean("/" + string(req.Dirpath))

	h.logger.Debug().
		Str("path", dirpath).
		Str("remote", conn.RemoteAddr().String()).
		Msg("NFS mount request")

	if !h.allowed(conn.RemoteAddr()) {
		h.logger.Warn().Str("remote", conn.RemoteAddr().String()).Msg("NFS client not in allowed networks")
		return nfs.MountStatusErrAcces, nil, nil
	}

	var sub string
	switch {
	case dirpath == "/" || strings.EqualFold(dirpath, h.name):
	case h.name != "/" && len(dirpath) > len(h.name) && strings.EqualFold(dirpath[:len(h.name)+1], h.name+"/"):
		sub = dirpath[len(h.name)+1:]
	default:
		h.logger.Warn().Str("path", dirpath).Msg("NFS export not found")
		return nfs.MountStatusErrNoEnt, nil, nil
	}

	var fs billy.Filesystem = h.fs
	if sub != "" {
		if _, err := h.fs.Stat(sub); err != nil {
			return nfs.MountStatusErrNoEnt, nil, nil
		}
		fs, _ = h.fs.Chroot(sub)
	}

	h.logger.Info().
		Str("path", dirpath).
		Bool("readonly", !h.fs.writable).
		Msg("NFS mount successful")

	return nfs.MountStatusOk, fs, []nfs.AuthFlavor{nfs.AuthFlavorNull}
}

// Change returns a billy.Change for the filesystem.
func (h *Handler) Change(fs billy.Filesystem) billy.Change {
	return nil // Attribute changes are not supported
}

// FSStat fills in filesystem statistics.
func (h *Handler) FSStat(ctx context.Context, fs billy.Filesystem, stat *nfs.FSStat) error {
	stat.TotalSize = 1 << 40
	stat.TotalFiles = 1 << 20
	if h.fs.writable {
		stat.FreeSize = 1 << 40
		stat.AvailableSize = 1 << 40
		stat.FreeFiles = 1 << 20
		stat.AvailableFiles = 1 << 20
	}
	stat.CacheHint = 0
	return nil
}

// ToHandle converts a file path to a handle.
func (h *Handler) ToHandle(fs billy.Filesystem, path []string) []byte {
	return h.inner.ToHandle(fs, path)
}

// FromHandle converts a handle back to a filesystem and path.
func (h *Handler) FromHandle(fh []byte) (billy.Filesystem, []string, error) {
	return h.inner.FromHandle(fh)
}

// InvalidateHandle invalidates a handle.
func (h *Handler) InvalidateHandle(fs billy.Filesystem, fh []byte) error {
	return h.inner.InvalidateHandle(fs, fh)
}

// HandleLimit returns the maximum number of handles.
func (h *Handler) HandleLimit() int {
	return h.cachingLimit
}
