// 配置文件轮询重载。
//
// 定时检查文件修改时间，变更后用 Loader 重新加载并通知订阅者。
package config

import (
	"context"
	"os"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Change describes one changed leaf field, e.g. "Log.Level".
type Change struct {
	Path     string
	OldValue any
	NewValue any
	// HotReloadable 为 false 时新值需要重启才能生效
	HotReloadable bool
	Sensitive     bool
}

// ReloadCallback is called after a new configuration has been accepted.
type ReloadCallback func(oldCfg, newCfg *Config, changes []Change)

// hotReloadable 列出无需重启即可生效的字段
var hotReloadable = map[string]bool{
	"Log.Level":           true,
	"Runner.MaxTurns":     true,
	"Server.RateLimitRPS": true,
}

var sensitive = map[string]bool{
	"LLM.APIKey":        true,
	"Database.Password": true,
	"Redis.Password":    true,
}

// Reloader polls a config file and reloads it when its modification time
// changes. Invalid files are rejected and the previous config is kept.
type Reloader struct {
	mu        sync.RWMutex
	loader    *Loader
	path      string
	interval  time.Duration
	current   *Config
	lastMod   time.Time
	callbacks []ReloadCallback
	logger    *zap.Logger
}

// NewReloader creates a reloader for loader's config file. current is the
// already loaded config.
func NewReloader(loader *Loader, current *Config, interval time.Duration, logger *zap.Logger) *Reloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	r := &Reloader{
		loader:   loader,
		path:     loader.configPath,
		interval: interval,
		current:  current,
		logger:   logger.With(zap.String("component", "config_reloader")),
	}
	if info, err := os.Stat(r.path); err == nil {
		r.lastMod = info.ModTime()
	}
	return r
}

// OnReload registers a callback.
func (r *Reloader) OnReload(cb ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Config returns the active configuration.
func (r *Reloader) Config() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Run polls until ctx is done.
func (r *Reloader) Run(ctx context.Context) error {
	if r.path == "" {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.logger.Info("watching config file", zap.String("path", r.path), zap.Duration("interval", r.interval))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Check()
		}
	}
}

// Check reloads the file if it changed since the last check and reports
// whether a new config was applied.
func (r *Reloader) Check() bool {
	info, err := os.Stat(r.path)
	if err != nil {
		return false
	}
	r.mu.Lock()
	if !info.ModTime().After(r.lastMod) {
		r.mu.Unlock()
		return false
	}
	r.lastMod = info.ModTime()
	r.mu.Unlock()

	next, err := r.loader.Load()
	if err == nil {
		err = next.Validate()
	}
	if err != nil {
		r.logger.Warn("config reload rejected, keeping previous config", zap.Error(err))
		return false
	}

	r.mu.Lock()
	prev := r.current
	r.current = next
	callbacks := append([]ReloadCallback(nil), r.callbacks...)
	r.mu.Unlock()

	changes := Diff(prev, next)
	for _, c := range changes {
		fields := []zap.Field{zap.String("path", c.Path), zap.Bool("hot_reloadable", c.HotReloadable)}
		if !c.Sensitive {
			fields = append(fields, zap.Any("old_value", c.OldValue), zap.Any("new_value", c.NewValue))
		}
		r.logger.Info("configuration changed", fields...)
	}
	for _, cb := range callbacks {
		cb(prev, next, changes)
	}
	return true
}

// Diff lists changed leaf fields between two configs.
func Diff(oldCfg, newCfg *Config) []Change {
	var changes []Change
	compareStructs("", reflect.ValueOf(oldCfg).Elem(), reflect.ValueOf(newCfg).Elem(), &changes)
	return changes
}

func compareStructs(prefix string, oldVal, newVal reflect.Value, changes *[]Change) {
	t := oldVal.Type()
	for i := 0; i < oldVal.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		path := field.Name
		if prefix != "" {
			path = prefix + "." + field.Name
		}

		of, nf := oldVal.Field(i), newVal.Field(i)
		if of.Kind() == reflect.Struct {
			compareStructs(path, of, nf, changes)
			continue
		}
		if !reflect.DeepEqual(of.Interface(), nf.Interface()) {
			*changes = append(*changes, Change{
				Path:          path,
				OldValue:      of.Interface(),
				NewValue:      nf.Interface(),
				HotReloadable: hotReloadable[path],
				Sensitive:     sensitive[path],
			})
		}
	}
}
