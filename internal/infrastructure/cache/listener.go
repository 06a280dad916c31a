package cache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"hybridauth/pkg/logger"
)

// Notification channels.
const (
	ChannelPermissions = "permissions_changed"
	ChannelTenants     = "tenants_changed"
)

// Handler receives the payload of a notification.
type Handler func(payload string)

// Listener keeps a dedicated connection in LISTEN mode and dispatches
// notifications to handlers, so caches in every process drop stale entries
// shortly after a change.
type Listener struct {
	pool     *pgxpool.Pool
	log      *logger.Logger
	handlers map[string][]Handler

	lifecycleMu sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     bool
}

// NewListener creates a listener on pool.
func NewListener(pool *pgxpool.Pool, log *logger.Logger) *Listener {
	return &Listener{
		pool:     pool,
		log:      log.WithComponent("cache-listener"),
		handlers: make(map[string][]Handler),
	}
}

// On registers h for channel. Must be called before Start.
func (l *Listener) On(channel string, h Handler) {
	l.handlers[channel] = append(l.handlers[channel], h)
}

// Start begins listening in the background.
func (l *Listener) Start(ctx context.Context) {
	l.lifecycleMu.Lock()
	defer l.lifecycleMu.Unlock()
	if l.started || len(l.handlers) == 0 {
		return
	}
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.started = true

	l.wg.Add(1)
	go l.listenLoop()
}

// Stop cancels the listener and waits for it to exit.
func (l *Listener) Stop() {
	l.lifecycleMu.Lock()
	if !l.started {
		l.lifecycleMu.Unlock()
		return
	}
	cancel := l.cancel
	l.started = false
	l.cancel = nil
	l.lifecycleMu.Unlock()

	cancel()
	l.wg.Wait()
}

func (l *Listener) channels() []string {
	out := make([]string, 0, len(l.handlers))
	for ch := range l.handlers {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

func (l *Listener) listenLoop() {
	defer l.wg.Done()

	stmts := make([]string, 0, len(l.handlers))
	for _, ch := range l.channels() {
		stmts = append(stmts, "LISTEN "+pgx.Identifier{ch}.Sanitize())
	}
	listen := strings.Join(stmts, "; ")

	for {
		if l.ctx.Err() != nil {
			return
		}

		conn, err := l.pool.Acquire(l.ctx)
		if err != nil {
			l.log.Errorw("acquire connection for LISTEN", "error", err)
			l.sleep(time.Second)
			continue
		}
		if _, err := conn.Exec(l.ctx, listen); err != nil {
			l.log.Errorw("LISTEN failed", "error", err)
			conn.Release()
			l.sleep(time.Second)
			continue
		}
		l.log.Infow("listening for cache invalidation", "channels", l.channels())

		// Notifications sent while reconnecting are lost; drop everything.
		l.dispatchAll("")
		l.waitForNotifications(conn)
		conn.Release()
	}
}

func (l *Listener) sleep(d time.Duration) {
	select {
	case <-l.ctx.Done():
	case <-time.After(d):
	}
}

func (l *Listener) waitForNotifications(conn *pgxpool.Conn) {
	for {
		ctx, cancel := context.WithTimeout(l.ctx, 30*time.Second)
		n, err := conn.Conn().WaitForNotification(ctx)
		cancel()
		if err != nil {
			if l.ctx.Err() != nil {
				return
			}
			if ctx.Err() != nil {
				continue
			}
			l.log.Warnw("notification wait failed, reconnecting", "error", err)
			return
		}
		l.dispatch(n.Channel, n.Payload)
	}
}

func (l *Listener) dispatchAll(payload string) {
	for ch := range l.handlers {
		l.dispatch(ch, payload)
	}
}

// dispatch runs handlers inline with panic recovery.
func (l *Listener) dispatch(channel, payload string) {
	for _, h := range l.handlers[channel] {
		func() {
			defer func() {
				if r := recover(); r != nil {
					l.log.Errorw("invalidation handler panic recovered", "channel", channel, "panic", r)
				}
			}()
			h(payload)
		}()
	}
}

// Notify sends a notification on channel.
func Notify(ctx context.Context, pool *pgxpool.Pool, channel, payload string) error {
	if _, err := pool.Exec(ctx, `SELECT pg_notify($1, $2)`, channel, payload); err != nil {
		return fmt.Errorf("notify %s: %w", channel, err)
	}
	return nil
}

// TenantNotifier broadcasts tenant changes to other processes. It implements
// tenancy.Invalidator.
type TenantNotifier struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// NewTenantNotifier creates a notifier.
func NewTenantNotifier(pool *pgxpool.Pool, log *logger.Logger) *TenantNotifier {
	return &TenantNotifier{pool: pool, log: log}
}

func (n *TenantNotifier) Invalidate(tenantID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Notify(ctx, n.pool, ChannelTenants, tenantID); err != nil {
		n.log.Warnw("tenant invalidation not broadcast", "tenant_id", tenantID, "error", err)
	}
}

// PurgeTenants returns a handler that invalidates one tenant, or everything
// for an empty payload.
func PurgeTenants(c *RegistryCache, invalidators ...interface{ Invalidate(string) }) Handler {
	return func(payload string) {
		if payload == "" {
			c.Purge()
			return
		}
		c.Invalidate(payload)
		for _, inv := range invalidators {
			inv.Invalidate(payload)
		}
	}
}

// PurgeCatalog returns a handler that drops the whole permission cache.
func PurgeCatalog(c *CatalogCache) Handler {
	return func(string) { c.Purge() }
}
