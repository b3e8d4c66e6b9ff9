package objectstore

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Local is the local filesystem store.
type Local struct{}

func NewLocal() *Local {
	return &Local{}
}

func (*Local) Open(_ context.Context, p string) (File, error) {
	return os.Open(localPath(p))
}

func (*Local) Create(_ context.Context, p string) (io.WriteCloser, error) {
	p = localPath(p)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, err
	}
	return os.Create(p)
}

func (*Local) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(localPath(prefix), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err = ctx.Err(); err != nil {
			return err
		}
		if !d.IsDir() {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func (*Local) IsDir(_ context.Context, p string) (bool, error) {
	info, err := os.Stat(localPath(p))
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}
