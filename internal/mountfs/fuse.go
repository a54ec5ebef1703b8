//go:build linux || darwin

package mountfs

import (
	"context"
	"fmt"
	"hash/fnv"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"

	"github.com/agentworkforce/labnotes/internal/notebook"
)

const (
	dirMode  = fuse.S_IFDIR | 0o555
	fileMode = fuse.S_IFREG | 0o444
)

// Mount is a live read-only mount of a Source.
type Mount struct {
	dir    string
	server *fuse.Server
	logger Logger
}

// Start mounts src at dir and serves requests in the background.
func Start(dir string, src Source, opts Options) (*Mount, error) {
	ttl := opts.ttl()
	root := &rootNode{src: src, started: time.Now()}
	server, err := fs.Mount(dir, root, &fs.Options{
		MountOptions: fuse.MountOptions{
			FsName:     "labnotes",
			Name:       "labnotes",
			Options:    []string{"ro"},
			AllowOther: opts.AllowOther,
			Debug:      opts.Debug,
		},
		EntryTimeout: &ttl,
		AttrTimeout:  &ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("mount %s: %w", dir, err)
	}
	m := &Mount{dir: dir, server: server, logger: opts.Logger}
	m.logf("mountfs: mounted at %s", dir)
	return m, nil
}

// Wait blocks until the file system is unmounted.
func (m *Mount) Wait() {
	m.server.Wait()
}

func (m *Mount) Unmount() error {
	if err := m.server.Unmount(); err != nil {
		return fmt.Errorf("unmount %s: %w", m.dir, err)
	}
	m.logf("mountfs: unmounted %s", m.dir)
	return nil
}

func (m *Mount) logf(format string, args ...any) {
	if m.logger == nil {
		return
	}
	m.logger.Printf(format, args...)
}

type rootNode struct {
	fs.Inode
	src     Source
	started time.Time
}

var (
	_ fs.NodeLookuper  = (*rootNode)(nil)
	_ fs.NodeReaddirer = (*rootNode)(nil)
	_ fs.NodeGetattrer = (*rootNode)(nil)
	_ fs.NodeLookuper  = (*modeNode)(nil)
	_ fs.NodeReaddirer = (*modeNode)(nil)
	_ fs.NodeGetattrer = (*modeNode)(nil)
	_ fs.NodeOpener    = (*entryNode)(nil)
	_ fs.NodeReader    = (*entryNode)(nil)
	_ fs.NodeGetattrer = (*entryNode)(nil)
)

func (r *rootNode) Getattr(_ context.Context, _ fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = dirMode
	out.SetTimes(nil, &r.started, &r.started)
	return 0
}

func (r *rootNode) Readdir(context.Context) (fs.DirStream, syscall.Errno) {
	modes := notebook.Modes()
	list := make([]fuse.DirEntry, 0, len(modes))
	for _, m := range modes {
		list = append(list, fuse.DirEntry{Name: string(m), Mode: fuse.S_IFDIR, Ino: inode("mode:" + string(m))})
	}
	return fs.NewListDirStream(list), 0
}

func (r *rootNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	mode := notebook.Mode(name)
	if !mode.Valid() {
		return nil, unix.ENOENT
	}
	out.Mode = dirMode
	out.SetTimes(nil, &r.started, &r.started)
	node := &modeNode{src: r.src, mode: mode, started: r.started}
	return r.NewInode(ctx, node, fs.StableAttr{Mode: fuse.S_IFDIR, Ino: inode("mode:" + name)}), 0
}

type modeNode struct {
	fs.Inode
	src     Source
	mode    notebook.Mode
	started time.Time
}

func (d *modeNode) Getattr(_ context.Context, _ fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = dirMode
	out.SetTimes(nil, &d.started, &d.started)
	return 0
}

func (d *modeNode) Readdir(context.Context) (fs.DirStream, syscall.Errno) {
	listing := List(d.src, d.mode)
	list := make([]fuse.DirEntry, 0, len(listing.Names))
	for _, name := range listing.Names {
		list = append(list, fuse.DirEntry{Name: name, Mode: fuse.S_IFREG, Ino: inode(listing.Entries[name].ID)})
	}
	return fs.NewListDirStream(list), 0
}

func (d *modeNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	e, ok := Find(d.src, d.mode, name)
	if !ok {
		return nil, unix.ENOENT
	}
	fillFile(&out.Attr, d.src, e)
	node := &entryNode{src: d.src, id: e.ID}
	return d.NewInode(ctx, node, fs.StableAttr{Mode: fuse.S_IFREG, Ino: inode(e.ID)}), 0
}

// entryNode is bound to an entry id. Its content follows the entry until
// the entry leaves the cache.
type entryNode struct {
	fs.Inode
	src Source
	id  string
}

func (f *entryNode) current() (notebook.Entry, bool) {
	for _, e := range f.src.Entries() {
		if e.ID == f.id {
			return e, true
		}
	}
	return notebook.Entry{}, false
}

func (f *entryNode) Getattr(_ context.Context, _ fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	e, ok := f.current()
	if !ok {
		return unix.ENOENT
	}
	fillFile(&out.Attr, f.src, e)
	return 0
}

func (f *entryNode) Open(_ context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(unix.O_WRONLY|unix.O_RDWR|unix.O_TRUNC|unix.O_APPEND) != 0 {
		return nil, 0, unix.EROFS
	}
	if _, ok := f.current(); !ok {
		return nil, 0, unix.ENOENT
	}
	return nil, fuse.FOPEN_DIRECT_IO, 0
}

func (f *entryNode) Read(_ context.Context, _ fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	e, ok := f.current()
	if !ok {
		return nil, unix.ENOENT
	}
	data := Render(f.src, e)
	if off >= int64(len(data)) {
		return fuse.ReadResultData(nil), 0
	}
	end := min(off+int64(len(dest)), int64(len(data)))
	return fuse.ReadResultData(data[off:end]), 0
}

func fillFile(attr *fuse.Attr, src Source, e notebook.Entry) {
	attr.Mode = fileMode
	attr.Size = uint64(len(Render(src, e)))
	attr.Ino = inode(e.ID)
	created, updated := e.Created, e.Updated
	if updated.IsZero() {
		updated = created
	}
	attr.SetTimes(nil, &updated, &created)
}

func inode(key string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	// Below the automatic range, which starts at 1<<63, and above the root.
	return h.Sum64()>>1 | 2
}
