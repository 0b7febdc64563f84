package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/samsamfire/gosdo/pkg/od"
	"github.com/samsamfire/gosdo/pkg/sdo"
)

const reloadDelay = 200 * time.Millisecond

func runServe(ctx context.Context, logger *slog.Logger, opts options, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("%w : expecting <file.eds>", errUsage)
	}
	cfg, err := loadSDOConfig(opts.configPath)
	if err != nil {
		return err
	}
	nodeId := opts.nodeId
	if nodeId == 0 {
		nodeId = cfg.NodeId
	}
	path := args[0]
	odict, err := od.Parse(path, nodeId)
	if err != nil {
		return err
	}
	store := sdo.NewDictionaryStore(odict)

	bus, bm, err := connect(opts)
	if err != nil {
		return err
	}
	defer bus.Disconnect()
	server, err := sdo.NewSDOServer(bm, logger, nil, store, nodeId)
	if err != nil {
		return err
	}
	defer server.Close()
	if err := cfg.ApplyServer(server); err != nil {
		return err
	}
	channels, err := sdo.NewSDOServerChannels(bm, logger, nil, store, nodeId)
	if err != nil {
		return err
	}
	for _, channel := range channels {
		defer channel.Close()
	}
	filter(bus, bm, logger)

	watcher, err := watchDictionary(ctx, logger, path, nodeId, store)
	if err != nil {
		return err
	}
	defer watcher.Close()

	printValue("Serving node", nodeId)
	printValue("Channel", server.Params().String())
	for _, channel := range channels {
		printValue("Channel", channel.Params().String())
	}
	<-ctx.Done()
	return nil
}

// dictionaryWatcher reloads an EDS file into a store whenever the file
// changes on disk. Events are debounced as editors usually write a file
// in several steps.
type dictionaryWatcher struct {
	logger    *slog.Logger
	path      string
	nodeId    uint8
	store     *sdo.DictionaryStore
	fsWatcher *fsnotify.Watcher
	mu        sync.Mutex
	pending   *time.Timer
	reloaded  func(err error)
	wg        sync.WaitGroup
}

func watchDictionary(
	ctx context.Context,
	logger *slog.Logger,
	path string,
	nodeId uint8,
	store *sdo.DictionaryStore,
) (*dictionaryWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	path = filepath.Clean(path)
	// The directory is watched, the file itself may be replaced
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		fsWatcher.Close()
		return nil, err
	}
	w := &dictionaryWatcher{
		logger:    logger,
		path:      path,
		nodeId:    nodeId,
		store:     store,
		fsWatcher: fsWatcher,
	}
	w.wg.Add(1)
	go w.eventLoop(ctx)
	logger.Info("watching dictionary", "path", path)
	return w, nil
}

func (w *dictionaryWatcher) eventLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.schedule()
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("dictionary watcher error", "err", err)
		}
	}
}

func (w *dictionaryWatcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(reloadDelay, w.reload)
}

func (w *dictionaryWatcher) reload() {
	odict, err := od.Parse(w.path, w.nodeId)
	if err != nil {
		w.logger.Warn("failed to reload dictionary, keeping the previous one", "path", w.path, "err", err)
	} else {
		w.store.SetDictionary(odict)
		w.logger.Info("dictionary reloaded", "path", w.path)
	}
	w.mu.Lock()
	reloaded := w.reloaded
	w.mu.Unlock()
	if reloaded != nil {
		reloaded(err)
	}
}

func (w *dictionaryWatcher) Close() error {
	err := w.fsWatcher.Close()
	w.wg.Wait()
	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.mu.Unlock()
	return err
}
