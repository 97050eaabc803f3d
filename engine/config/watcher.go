package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/vixen/engine/core"
	"github.com/spaghettifunk/vixen/engine/eventbus"
)

/**
 * @brief Watcher reloads the engine configuration when the file changes
 * and publishes a BudgetConfigChanged message with the new config as
 * payload. Subscribers (capacity tracker, queues) pick the change up on
 * the next ProcessMessages.
 */
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	bus     *eventbus.MessageBus
	done    chan struct{}
}

func NewWatcher(path string, bus *eventbus.MessageBus) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory; editors replace files on save.
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		watcher: fsWatcher,
		bus:     bus,
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				core.LogWarn("config reload failed: %v", err)
				continue
			}
			core.LogInfo("configuration reloaded from %s", w.path)
			w.bus.Publish(&eventbus.Message{
				Type:          eventbus.MessageBudgetConfigChanged,
				CategoryFlags: eventbus.CategoryConfig | eventbus.CategoryBudget,
				Payload:       &cfg,
			})
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			core.LogWarn("config watcher: %v", err)
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher goroutine.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
