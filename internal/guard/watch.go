package guard

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/fyrsmithlabs/rolloutd/internal/logging"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"
)

const maxRulesFileSize = 1 << 20

// LoadRulesFile reads never_touch / manual_review / allow_auto lists from a
// YAML file.
func LoadRulesFile(path string) (Rules, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Rules{}, fmt.Errorf("stat rules file: %w", err)
	}
	if info.Size() > maxRulesFileSize {
		return Rules{}, fmt.Errorf("rules file %s exceeds %d bytes", path, maxRulesFileSize)
	}
	content, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return Rules{}, fmt.Errorf("read rules file: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return Rules{}, fmt.Errorf("parse rules file: %w", err)
	}
	var rules Rules
	if err := k.Unmarshal("", &rules); err != nil {
		return Rules{}, fmt.Errorf("unmarshal rules: %w", err)
	}
	if len(rules.NeverTouch)+len(rules.ManualReview)+len(rules.AllowAuto) == 0 {
		return Rules{}, fmt.Errorf("rules file %s defines no rules", path)
	}
	if err := rules.Validate(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

// RulesWatcher reloads a Validator's rules whenever the rules file changes.
// A file that fails to load leaves the previous rules in place.
type RulesWatcher struct {
	path      string
	validator *Validator
	watcher   *fsnotify.Watcher
	logger    *logging.Logger
	reloaded  chan struct{}
	done      chan struct{}
}

// WatchRules loads path into v and keeps it in sync until ctx ends or
// Close is called.
func WatchRules(ctx context.Context, path string, v *Validator, logger *logging.Logger) (*RulesWatcher, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	rules, err := LoadRulesFile(path)
	if err != nil {
		return nil, err
	}
	if err := v.SetRules(rules); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create rules watcher: %w", err)
	}
	// Watch the directory: editors often replace the file instead of
	// writing it in place.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	w := &RulesWatcher{
		path:      filepath.Clean(path),
		validator: v,
		watcher:   watcher,
		logger:    logger,
		reloaded:  make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go w.loop(ctx)
	return w, nil
}

// Reloaded is signalled after every successful reload.
func (w *RulesWatcher) Reloaded() <-chan struct{} {
	return w.reloaded
}

// Close stops watching.
func (w *RulesWatcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
		return w.watcher.Close()
	}
}

func (w *RulesWatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "guard rules watcher error", zap.Error(err))
		}
	}
}

func (w *RulesWatcher) reload(ctx context.Context) {
	rules, err := LoadRulesFile(w.path)
	if err != nil {
		w.logger.Warn(ctx, "guard rules reload failed; keeping previous rules", zap.String("path", w.path), zap.Error(err))
		return
	}
	if err := w.validator.SetRules(rules); err != nil {
		w.logger.Warn(ctx, "guard rules rejected", zap.Error(err))
		return
	}
	w.logger.Info(ctx, "guard rules reloaded",
		zap.Int("never_touch", len(rules.NeverTouch)),
		zap.Int("manual_review", len(rules.ManualReview)),
		zap.Int("allow_auto", len(rules.AllowAuto)),
	)
	select {
	case w.reloaded <- struct{}{}:
	default:
	}
}
