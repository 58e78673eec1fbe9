package cachedfs

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// readBatch reads every path of a batch, at most Parallelism at a time.
// A failed read fails only its own item.
func (f *FS) readBatch(ctx context.Context, paths []string) ([]readResult, error) {
	out := make([]readResult, len(paths))
	var g errgroup.Group
	g.SetLimit(f.opt.Parallelism)
	for i, p := range paths {
		g.Go(func() error {
			data, err := f.base.ReadFile(ctx, p)
			out[i] = readResult{data: data, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

// writeBatch applies a batch of writes. Writes to the same path keep their
// order; distinct paths are written concurrently. Any failure fails the
// whole batch so no caller caches data that may not be on disk.
func (f *FS) writeBatch(ctx context.Context, reqs []writeReq) ([]struct{}, error) {
	order := make([]string, 0, len(reqs))
	byPath := make(map[string][]writeReq, len(reqs))
	for _, r := range reqs {
		if _, ok := byPath[r.path]; !ok {
			order = append(order, r.path)
		}
		byPath[r.path] = append(byPath[r.path], r)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opt.Parallelism)
	for _, p := range order {
		g.Go(func() error {
			for _, r := range byPath[p] {
				if err := f.base.WriteFile(ctx, r.path, r.data); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return make([]struct{}, len(reqs)), nil
}
