// Package watch multiplexes change-notification subscriptions over a
// Source of real watchers.
//
// Subscriptions are pooled per (kind, path). The first subscription
// creates one real watcher whose handler fans each event out to every
// subscription registered at that moment; later subscriptions to the same
// key share it. Closing a Subscription removes its handler, and closing
// the last one closes the real watcher, so a later subscription starts
// from a fresh watcher.
//
//	pool := watch.NewPool(fsys.NewOS(log), log)
//	defer pool.Close()
//
//	sub, err := pool.WatchFile("config.yaml", func(ev watch.Event) {
//	    log.Info("changed", "path", ev.Path, "op", ev.Op)
//	})
//	if err != nil {
//	    return err
//	}
//	defer sub.Close()
package watch
