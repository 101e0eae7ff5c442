package controls

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/simrigs/rig-commander/log"
	"github.com/simrigs/rig-commander/pkg/model"
	"github.com/simrigs/rig-commander/pkg/utils/cache"
	"github.com/simrigs/rig-commander/pkg/utils/cache/loadercache"
)

// ErrNoBinding signals that the action has no key combo in the simulator's
// control settings. Not retryable; the operator has to configure the key.
var ErrNoBinding = errors.New("no key binding configured")

const defaultCooldown = 30 * time.Second

type (
	bindingSet map[model.Action]model.ControlBinding

	fileEntry struct {
		Label string `yaml:"label"`
		Combo string `yaml:"combo"`
	}
	bindingFile struct {
		Bindings map[string]fileEntry `yaml:"bindings"`
	}
)

// Store resolves abstract action names to key combos, loaded from the
// simulator's control configuration file. Loads are cached with a cooldown
// so dispatch does not hit the disk on every command; a file watcher (and
// ForceReload) invalidates the cache early.
type Store struct {
	path    string
	l       *log.Logger
	cache   cache.Cache[string, bindingSet]
	watcher *fsnotify.Watcher
}

type Option func(*storeConfig)

type storeConfig struct {
	cooldown time.Duration
	watch    bool
	l        *log.Logger
}

func WithCooldown(d time.Duration) Option {
	return func(c *storeConfig) {
		c.cooldown = d
	}
}

// WithWatch enables a file watcher that invalidates the cached bindings
// whenever the controls file is rewritten by the simulator.
func WithWatch() Option {
	return func(c *storeConfig) {
		c.watch = true
	}
}

func WithLogger(l *log.Logger) Option {
	return func(c *storeConfig) {
		c.l = l
	}
}

func NewStore(path string, opts ...Option) (*Store, error) {
	cfg := &storeConfig{
		cooldown: defaultCooldown,
		l:        log.Default().Named("controls"),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	ret := &Store{path: path, l: cfg.l}
	ret.cache = loadercache.New(
		loadercache.WithExpiration[string, bindingSet](cfg.cooldown),
		loadercache.WithLoader[string, bindingSet](ret.loadFile),
		loadercache.WithLogger[string, bindingSet](cfg.l.Named("cache")),
	)
	if cfg.watch {
		if err := ret.startWatch(); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

// Resolve returns the binding for the action. enter_car falls back to the
// reset_car binding when unmapped since the two share a key in the
// simulator. Returns ErrNoBinding when neither is mapped.
func (s *Store) Resolve(ctx context.Context, action model.Action) (model.ControlBinding, error) {
	set, err := s.cache.Get(ctx, s.path)
	if err != nil {
		return model.ControlBinding{}, fmt.Errorf("load bindings: %w", err)
	}
	if b, ok := (*set)[action]; ok && b.Bound() {
		return b, nil
	}
	if action == model.ActionEnterCar {
		if b, ok := (*set)[model.ActionResetCar]; ok && b.Bound() {
			fallback := b
			fallback.Action = model.ActionEnterCar
			fallback.Source = "fallback:reset_car"
			return fallback, nil
		}
	}
	return model.ControlBinding{}, fmt.Errorf("%w for action %q", ErrNoBinding, action)
}

// ForceReload drops the cached bindings; the next Resolve re-reads the file.
func (s *Store) ForceReload(ctx context.Context) {
	s.cache.Invalidate(ctx, s.path)
}

func (s *Store) Close() {
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
}

func (s *Store) loadFile(path string) (*bindingSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var bf bindingFile
	if err := yaml.Unmarshal(data, &bf); err != nil {
		return nil, fmt.Errorf("parse controls file: %w", err)
	}
	set := bindingSet{}
	for name, entry := range bf.Bindings {
		action := model.Action(name)
		set[action] = model.ControlBinding{
			Action: action,
			Label:  entry.Label,
			Combo:  entry.Combo,
			Source: path,
		}
	}
	s.l.Debug("loaded bindings", log.String("path", path), log.Int("num", len(set)))
	return &set, nil
}

func (s *Store) startWatch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(s.path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", s.path, err)
	}
	s.watcher = watcher
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) {
					s.l.Info("controls file changed, reloading",
						log.String("path", ev.Name))
					s.cache.Invalidate(context.Background(), s.path)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.l.Warn("controls watcher error", log.ErrorField(err))
			}
		}
	}()
	return nil
}
