package config

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch calls onChange whenever the config file at path is written or
// recreated. The directory is watched so editors that replace the file are
// seen. The returned func stops the watcher.
func Watch(path string, onChange func(path string)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: start watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config: watch %s: %w", filepath.Dir(abs), err)
	}
	name := filepath.Base(abs)

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if filepath.Base(event.Name) != name {
					continue
				}
				log.Printf("Config file changed: %s", abs)
				onChange(abs)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("WARNING: config watcher error: %v", err)
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
