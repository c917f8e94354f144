package seed

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"riskwatch/internal/logger"
	"riskwatch/internal/store"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Beginner opens a transaction; store.Store satisfies it.
type Beginner interface {
	Begin(ctx context.Context) (store.UnitOfWork, error)
}

// Summary counts the records written by one apply.
type Summary struct {
	Accounts int `json:"accounts"`
	Actions  int `json:"actions"`
	Rules    int `json:"rules"`
	Trades   int `json:"trades"`
}

// Snapshot describes the last successful load.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Summary  Summary
}

// ChangeListener runs after a reload was applied.
type ChangeListener func(Snapshot)

// Apply validates f and writes it in a single transaction. Records are
// upserted by natural key (account login, action name, rule name), so
// applying the same file twice is a no-op.
func Apply(ctx context.Context, st Beginner, f File) (Summary, error) {
	if err := f.Validate(); err != nil {
		return Summary{}, fmt.Errorf("invalid seed file: %w", err)
	}
	uow, err := st.Begin(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("begin seed transaction: %w", err)
	}
	sum, err := apply(ctx, uow, f)
	if err != nil {
		_ = uow.Rollback()
		return Summary{}, err
	}
	if err := uow.Commit(); err != nil {
		return Summary{}, fmt.Errorf("commit seed: %w", err)
	}
	return sum, nil
}

func apply(ctx context.Context, repos store.Repositories, f File) (Summary, error) {
	var sum Summary
	accountIDs := make(map[int64]int64, len(f.Accounts))
	for _, spec := range f.Accounts {
		acc := spec.toAccount()
		if err := repos.Accounts().Save(ctx, &acc); err != nil {
			return sum, fmt.Errorf("save account %d: %w", spec.Login, err)
		}
		accountIDs[spec.Login] = acc.ID
		sum.Accounts++
	}
	actionIDs := make(map[string]int64, len(f.Actions))
	for _, spec := range f.Actions {
		action := spec.toAction()
		if err := repos.Actions().Save(ctx, &action); err != nil {
			return sum, fmt.Errorf("save action %s: %w", action.Name, err)
		}
		actionIDs[action.Name] = action.ID
		sum.Actions++
	}
	for _, spec := range f.Rules {
		rule := spec.toRule()
		ids := make([]int64, 0, len(spec.Actions))
		for _, name := range spec.Actions {
			ids = append(ids, actionIDs[strings.TrimSpace(name)])
		}
		if err := repos.Rules().Save(ctx, &rule, ids); err != nil {
			return sum, fmt.Errorf("save rule %s: %w", rule.Name, err)
		}
		sum.Rules++
	}
	for i, spec := range f.Trades {
		trade, err := spec.toTrade(accountIDs[spec.AccountLogin])
		if err != nil {
			return sum, fmt.Errorf("trades[%d]: %w", i, err)
		}
		if err := repos.Trades().Save(ctx, &trade); err != nil {
			return sum, fmt.Errorf("save trade %d: %w", spec.ID, err)
		}
		sum.Trades++
	}
	return sum, nil
}

// Loader applies a seed file and optionally re-applies it when it changes.
type Loader struct {
	path  string
	store Beginner

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
	watching  atomic.Bool
}

func NewLoader(path string, st Beginner) (*Loader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("seed loader requires path")
	}
	return &Loader{path: path, store: st}, nil
}

// Load reads and applies the file once.
func (l *Loader) Load(ctx context.Context) (Snapshot, error) {
	f, err := ReadFile(l.path)
	if err != nil {
		return Snapshot{}, err
	}
	sum, err := Apply(ctx, l.store, f)
	if err != nil {
		return Snapshot{}, err
	}
	l.mu.Lock()
	l.snapshot = Snapshot{Version: l.snapshot.Version + 1, LoadedAt: time.Now(), Summary: sum}
	snap := l.snapshot
	l.mu.Unlock()
	logger.Infof("Seed loaded accounts=%d actions=%d rules=%d trades=%d from %s (v%d)",
		sum.Accounts, sum.Actions, sum.Rules, sum.Trades, filepath.Base(l.path), snap.Version)
	return snap, nil
}

func (l *Loader) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshot
}

func (l *Loader) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

// Watch re-applies the file on every write until ctx ends. A reload that
// fails validation is logged and the previous definitions stay in place.
func (l *Loader) Watch(ctx context.Context) error {
	v := viper.New()
	v.SetConfigFile(l.path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read seed file failed: %w", err)
	}
	l.watching.Store(true)
	v.OnConfigChange(func(evt fsnotify.Event) {
		if !l.watching.Load() {
			return
		}
		logger.Infof("Seed file changed (%s), reloading", evt.Op)
		snap, err := l.Load(ctx)
		if err != nil {
			logger.Errorf("seed reload failed: %v", err)
			return
		}
		l.notifyListeners(snap)
	})
	v.WatchConfig()
	<-ctx.Done()
	l.watching.Store(false)
	return nil
}

func (l *Loader) notifyListeners(snap Snapshot) {
	l.mu.RLock()
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer safeRecover("seed listener")
			cb(snap)
		}(fn)
	}
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}
