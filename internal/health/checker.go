// Package health probes whether a running service is reachable.
//
// Reachability is orthogonal to liveness: a process can be alive while its
// port is not yet (or no longer) answering.
package health

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrSnakeDoc/devhost/internal/logger"
	"github.com/MrSnakeDoc/devhost/internal/services"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

// Target is where to probe.
type Target struct {
	Host     string // default 127.0.0.1
	Port     int
	Path     string // http only
	Password string // redis only
}

func (t Target) addr() string {
	host := t.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(t.Port))
}

type Checker struct {
	timeout time.Duration
	log     logger.Logger
	client  *http.Client
}

func NewChecker(timeout time.Duration, log logger.Logger) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{
		timeout: timeout,
		log:     log,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   timeout,
					KeepAlive: 0,
				}).DialContext,
				DisableKeepAlives: true,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Don't follow redirects
				return http.ErrUseLastResponse
			},
		},
	}
}

// Check returns nil when the target answers the probe of the given kind.
func (c *Checker) Check(ctx context.Context, kind services.HealthKind, t Target) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	switch kind {
	case services.HealthNone:
		return nil
	case services.HealthTCP:
		return c.checkTCP(ctx, t)
	case services.HealthHTTP:
		return c.checkHTTP(ctx, t)
	case services.HealthRedis:
		return c.checkRedis(ctx, t)
	case services.HealthPostgres:
		return c.checkPostgres(ctx, t)
	case services.HealthMySQL:
		return c.checkMySQL(ctx, t)
	default:
		return fmt.Errorf("unknown health check kind %q", kind)
	}
}

func (c *Checker) checkTCP(ctx context.Context, t Target) error {
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "tcp", t.addr())
	if err != nil {
		return fmt.Errorf("tcp %s: %w", t.addr(), err)
	}
	return conn.Close()
}

func (c *Checker) checkHTTP(ctx context.Context, t Target) error {
	path := t.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	url := "http://" + t.addr() + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http %s: %w", url, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// 2xx-4xx all prove something is serving.
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("http %s: status %d", url, resp.StatusCode)
	}
	return nil
}

func (c *Checker) checkRedis(ctx context.Context, t Target) error {
	client := redis.NewClient(&redis.Options{
		Addr:         t.addr(),
		Password:     t.Password,
		DialTimeout:  c.timeout,
		ReadTimeout:  c.timeout,
		WriteTimeout: c.timeout,
		PoolSize:     1,
		MaxRetries:   -1,
	})
	defer func() {
		_ = client.Close()
	}()

	err := client.Ping(ctx).Err()
	if err == nil || isRedisAuthError(err) {
		return nil
	}
	return fmt.Errorf("redis %s: %w", t.addr(), err)
}

func isRedisAuthError(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "NOAUTH") || strings.HasPrefix(msg, "WRONGPASS")
}

func (c *Checker) checkPostgres(ctx context.Context, t Target) error {
	dsn := fmt.Sprintf("postgres://postgres@%s/postgres?sslmode=disable&connect_timeout=%d",
		t.addr(), max(1, int(c.timeout.Seconds()+0.5)))
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		// The server answered, it just didn't like us.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return nil
		}
		return fmt.Errorf("postgres %s: %w", t.addr(), err)
	}
	defer func() {
		_ = conn.Close(context.Background())
	}()
	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("postgres %s: %w", t.addr(), err)
	}
	return nil
}

func (c *Checker) checkMySQL(ctx context.Context, t Target) error {
	cfg := mysql.NewConfig()
	cfg.User = "root"
	cfg.Net = "tcp"
	cfg.Addr = t.addr()
	cfg.Timeout = c.timeout

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return fmt.Errorf("mysql %s: %w", t.addr(), err)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := db.PingContext(ctx); err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) {
			return nil
		}
		return fmt.Errorf("mysql %s: %w", t.addr(), err)
	}
	return nil
}
