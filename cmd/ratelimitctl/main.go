// Command ratelimitctl inspeciona o estado do gateway guardado no Redis.
//
// Uso:
//
//	ratelimitctl peek --scope ip 203.0.113.9
//	ratelimitctl peek --scope apikey --secret sk_live_abc123
//	ratelimitctl stats /api/v1/resource
//	ratelimitctl stats --json
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

// CLI define a interface de linha de comando.
type CLI struct {
	Peek  PeekCmd  `cmd:"" help:"Show the live window of one rate-limit key without recording."`
	Stats StatsCmd `cmd:"" help:"Show cumulative per-endpoint statistics."`

	RedisAddr     string        `name:"redis-addr" env:"REDIS_ADDR" default:"localhost:6379" help:"Redis address."`
	RedisPassword string        `name:"redis-password" env:"REDIS_PASSWORD" help:"Redis password."`
	RedisDB       int           `name:"redis-db" env:"REDIS_DB" default:"0" help:"Redis database."`
	TiersFile     string        `name:"tiers-file" env:"TIERS_FILE" help:"YAML tier table (defaults apply when empty)."`
	Timeout       time.Duration `default:"2s" help:"Timeout for Redis calls."`
	JSON          bool          `help:"Print JSON instead of a table."`
}

// env é o que os subcomandos recebem do main.
type env struct {
	rdb     redis.UniversalClient
	tiers   *application.TierRegistry
	out     io.Writer
	json    bool
	timeout time.Duration
	now     func() time.Time
}

type PeekCmd struct {
	Scope  string `required:"" enum:"ip,user,apikey,endpoint,method" help:"Scope of the key."`
	ID     string `arg:"" help:"Identifier (IP, user id, API key id, normalized path or method)."`
	Secret bool   `help:"ID is a raw API key (apikey) or bearer token (user); apply the gateway digest."`
}

type peekResult struct {
	Key        string        `json:"key"`
	Limit      int           `json:"limit"`
	Window     time.Duration `json:"window"`
	Count      int           `json:"count"`
	Remaining  int           `json:"remaining"`
	Oldest     time.Time     `json:"oldest,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

func (c *PeekCmd) Run(e *env) error {
	sc, err := domain.ParseScope(c.Scope)
	if err != nil {
		return err
	}
	tier, ok := e.tiers.Limits(sc)
	if !ok {
		return fmt.Errorf("no tier for scope %s", sc)
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	id := c.ID
	if c.Secret {
		switch sc {
		case domain.ScopeAPIKey:
			id = ratelimit.APIKeyID(id)
		case domain.ScopeUser:
			id = ratelimit.BearerID(id)
		default:
			return fmt.Errorf("--secret only applies to apikey and user scopes")
		}
	}

	key := domain.Key{Scope: sc, ID: id}
	now := e.now()
	wc, err := infra.NewRedisWindowStore(e.rdb, infra.WithWindowTimeout(e.timeout)).Peek(ctx, key, tier.Window, now)
	if err != nil {
		return err
	}

	res := peekResult{
		Key:       key.String(),
		Limit:     tier.Limit,
		Window:    tier.Window,
		Count:     wc.Count,
		Remaining: max(0, tier.Limit-wc.Count),
		Oldest:    wc.Oldest,
	}
	// a próxima requisição seria a Count+1
	if wc.Count >= tier.Limit && !wc.Oldest.IsZero() {
		res.RetryAfter = wc.Oldest.Add(tier.Window).Sub(now)
	}

	if e.json {
		return json.NewEncoder(e.out).Encode(res)
	}
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tLIMIT\tWINDOW\tCOUNT\tREMAINING\tRETRY AFTER")
	fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%d\t%s\n", res.Key, res.Limit, res.Window, res.Count, res.Remaining, res.RetryAfter)
	return tw.Flush()
}

type StatsCmd struct {
	Endpoint string `arg:"" optional:"" help:"Endpoint path (all endpoints when empty)."`
	Prefix   string `default:"stats" help:"Stats key prefix."`
}

func (c *StatsCmd) Run(e *env) error {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	store := infra.NewRedisStatsStore(e.rdb, infra.WithStatsPrefix(c.Prefix))

	endpoints := []string{c.Endpoint}
	if c.Endpoint == "" {
		var err error
		if endpoints, err = store.Endpoints(ctx); err != nil {
			return err
		}
		sort.Strings(endpoints)
	}

	out := make(map[string]domain.EndpointStats, len(endpoints))
	for _, ep := range endpoints {
		st, ok, err := store.Read(ctx, application.NormalizeEndpoint(ep))
		if err != nil {
			return err
		}
		if !ok {
			if c.Endpoint != "" {
				return fmt.Errorf("no stats for %s", ep)
			}
			continue
		}
		out[ep] = st
	}

	if e.json {
		return json.NewEncoder(e.out).Encode(out)
	}
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENDPOINT\tALLOWED\tBLOCKED\tERRORS\tP50\tP95\tP99")
	for _, ep := range endpoints {
		st, ok := out[ep]
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%s\t%s\n", ep, st.Allowed, st.Blocked, st.Errors, st.P50, st.P95, st.P99)
	}
	return tw.Flush()
}

func loadTiers(path string) (*application.TierRegistry, error) {
	tiers := domain.DefaultTiers()
	if path != "" {
		var err error
		if tiers, err = infra.LoadTierFile(path); err != nil {
			return nil, err
		}
	}
	return application.NewTierRegistry(tiers)
}

func main() {
	_ = godotenv.Load()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("ratelimitctl"),
		kong.Description("Inspect sliding-window counters and endpoint stats of the admission gateway."),
		kong.UsageOnError(),
	)

	tiers, err := loadTiers(cli.TiersFile)
	ctx.FatalIfErrorf(err)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cli.RedisAddr,
		Password: cli.RedisPassword,
		DB:       cli.RedisDB,
	})
	defer func() { _ = rdb.Close() }()

	err = ctx.Run(&env{
		rdb:     rdb,
		tiers:   tiers,
		out:     os.Stdout,
		json:    cli.JSON,
		timeout: cli.Timeout,
		now:     time.Now,
	})
	ctx.FatalIfErrorf(err)
}
