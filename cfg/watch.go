package cfg

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// Watcher 监听配置文件变化，文件写入或重建后重新解码并回调
type Watcher struct {
	filename string
	watcher  *fsnotify.Watcher
	onChange func(node *Node, err error)
	wg       sync.WaitGroup
	once     sync.Once
}

// WatchFile 监听 filename 所在目录，编辑器通过重命名保存的情况也能收到
func WatchFile(filename string, onChange func(node *Node, err error)) (*Watcher, error) {
	if onChange == nil {
		return nil, errors.New("onChange is nil")
	}
	absPath, err := filepath.Abs(filename)
	if err != nil {
		return nil, errors.Wrap(err, "invalid file path")
	}
	if _, err := FormatOf(absPath); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create file watcher")
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return nil, errors.Wrap(err, "failed to add directory to watcher")
	}

	w := &Watcher{filename: absPath, watcher: watcher, onChange: onChange}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.filename || (!event.Has(fsnotify.Write) && !event.Has(fsnotify.Create)) {
				continue
			}
			w.onChange(ReadFile(w.filename))
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.onChange(nil, errors.Wrap(err, "file watcher error"))
		}
	}
}

func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}
