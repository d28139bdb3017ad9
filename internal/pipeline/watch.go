package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
)

// Watch processes images as they are created in dir until ctx is canceled. Files already in
// dir are processed first when existing is true. Each path is processed once per change.
func (p *Processor) Watch(ctx context.Context, dir string, existing bool) error {
	st, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	if existing {
		if _, err := p.ProcessDir(ctx, dir); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}

	deb := newPending(p.opts.Debounce)
	defer deb.stop()

	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)
	defer func() { _ = g.Wait() }()

	p.opts.Logger.Info("watching for images", "dir", dir)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if p.hasImageExt(ev.Name) {
				deb.touch(ctx, ev.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			p.opts.Logger.Warn("watch error", "dir", dir, "error", err)
		case path := <-deb.ready:
			if _, err := os.Stat(path); err != nil {
				continue
			}
			g.Go(func() error {
				p.ProcessFile(ctx, path)
				return nil
			})
		}
	}
}
