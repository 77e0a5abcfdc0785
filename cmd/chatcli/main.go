// Command chatcli is an interactive console host for the dispatch engine.
// Lines typed on stdin are treated as chat messages; lines starting with '@'
// impersonate another user ("@bob:vip /help"), and lines starting with ':'
// are host administration (":stats", ":alias inv inventory", ":quit").
//
// Alias changes survive restarts through the host's datastore file; the
// engine itself holds no durable state.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	clog "github.com/charmbracelet/log"
	"github.com/keshon/datastore"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Loggableim/chatcmd/internal/audit"
	"github.com/Loggableim/chatcmd/internal/command"
	"github.com/Loggableim/chatcmd/internal/config"
	"github.com/Loggableim/chatcmd/internal/cooldown"
	"github.com/Loggableim/chatcmd/internal/deferred"
	"github.com/Loggableim/chatcmd/internal/dispatch"
	"github.com/Loggableim/chatcmd/internal/logging"
	"github.com/Loggableim/chatcmd/internal/observe"
	"github.com/Loggableim/chatcmd/internal/permission"
	"github.com/Loggableim/chatcmd/pkg/tokenbucket"
)

const hostPlugin = "chatcli"

func main() {
	cfg, err := config.New()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel)

	store, err := datastore.New(cfg.StoragePath)
	if err != nil {
		logger.Fatal("open datastore", "err", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := command.NewRegistry()
	perms := permission.NewEngine()
	limiter := tokenbucket.New(tokenbucket.Config{
		Global:  tokenbucket.Bucket{Capacity: cfg.GlobalCapacity, Refill: cfg.GlobalRefill, Interval: cfg.BucketInterval},
		PerUser: tokenbucket.Bucket{Capacity: cfg.UserCapacity, Refill: cfg.UserRefill, Interval: cfg.BucketInterval},
		MaxIdle: cfg.BucketMaxIdle,
	})
	cooldowns := cooldown.New()
	auditLog := audit.NewLog(cfg.AuditCapacity)
	history := audit.NewHistoryStore(0)
	metrics := observe.New(prometheus.NewRegistry())

	d, err := dispatch.New(dispatch.Config{
		Prefix:        cfg.Prefix,
		MaxMessageLen: cfg.MaxMessageLen,
		Registry:      registry,
		Limiter:       limiter,
		Cooldowns:     cooldowns,
		Permissions:   perms,
		Audit:         auditLog,
		History:       history,
		Observer:      metrics,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("build dispatcher", "err", err)
	}

	scheduler := deferred.NewScheduler(d, logger)
	defer scheduler.StopAll()
	macros := deferred.NewMacroRunner(d)

	registerBuiltins(registry, history, cfg.Prefix)
	loadAliases(store, registry, logger)

	go limiter.Run(ctx, cfg.CleanupEvery)
	go cooldowns.Run(ctx, cfg.CleanupEvery)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
		os.Stdin.Close()
	}()

	logger.Info("chatcli ready", "prefix", cfg.Prefix)
	repl(ctx, replDeps{
		dispatcher: d,
		registry:   registry,
		scheduler:  scheduler,
		macros:     macros,
		auditLog:   auditLog,
		limiter:    limiter,
		cooldowns:  cooldowns,
		history:    history,
	})

	saveAliases(store, registry)
	logger.Info("bye")
}

type replDeps struct {
	dispatcher *dispatch.Dispatcher
	registry   *command.Registry
	scheduler  *deferred.Scheduler
	macros     *deferred.MacroRunner
	auditLog   *audit.Log
	limiter    *tokenbucket.Limiter
	cooldowns  *cooldown.Tracker
	history    *audit.HistoryStore
}

func repl(ctx context.Context, deps replDeps) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ":") {
			if quit := adminLine(deps, line); quit {
				return
			}
			continue
		}

		msg := dispatch.Message{
			UserID:      "console",
			DisplayName: "console",
			Role:        permission.Broadcaster,
		}
		if strings.HasPrefix(line, "@") {
			parts := strings.SplitN(line, " ", 2)
			if len(parts) != 2 {
				fmt.Println("usage: @user[:role] <message>")
				continue
			}
			who := strings.TrimPrefix(parts[0], "@")
			if user, role, ok := strings.Cut(who, ":"); ok {
				msg.UserID, msg.DisplayName = user, user
				msg.Role = permission.Level(role)
			} else {
				msg.UserID, msg.DisplayName = who, who
				msg.Role = permission.All
			}
			line = parts[1]
		}
		msg.Raw = line

		res := deps.dispatcher.Dispatch(ctx, msg)
		printResult(res)
	}
}

func printResult(res *command.Result) {
	switch {
	case !res.IsCommand:
		// plain chat, nothing to do
	case res.Success:
		if res.Message != "" {
			fmt.Println(res.Message)
		}
		if res.Data != nil {
			out, _ := json.Marshal(res.Data)
			fmt.Println(string(out))
		}
	default:
		fmt.Printf("error [%s]: %s\n", res.ErrorCode, res.Error)
		if res.Suggestion != "" {
			fmt.Println(res.Suggestion)
		}
	}
}

// adminLine handles host administration. Reports whether the REPL should
// quit.
func adminLine(deps replDeps, line string) bool {
	fields := strings.Fields(strings.TrimPrefix(line, ":"))
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "quit", "exit":
		return true
	case "stats":
		stats := deps.registry.Stats()
		out, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(out))
		lim := deps.limiter.Stats()
		fmt.Printf("limiter: allowed=%d denied=%d active=%d\n", lim.Allowed, lim.Denied, lim.ActiveUsers)
	case "audit":
		for _, e := range deps.auditLog.Recent(10) {
			fmt.Printf("#%d %s %s %s ok=%v %s\n",
				e.ID, e.Time.Format(time.TimeOnly), e.UserID, e.Command, e.Success, e.Error)
		}
	case "alias":
		if len(fields) != 3 {
			fmt.Println("usage: :alias <alias> <command>")
			return false
		}
		if err := deps.registry.RegisterAlias(fields[1], fields[2]); err != nil {
			fmt.Println("alias:", err)
		}
	case "in":
		if len(fields) < 3 {
			fmt.Println("usage: :in <delay> <command...>")
			return false
		}
		delay, err := time.ParseDuration(fields[1])
		if err != nil {
			fmt.Println("bad delay:", err)
			return false
		}
		raw := strings.Join(fields[2:], " ")
		id, err := deps.scheduler.After(delay, raw, consoleMessage())
		if err != nil {
			fmt.Println("schedule:", err)
			return false
		}
		fmt.Println("scheduled", id)
	case "every":
		if len(fields) < 4 {
			fmt.Println("usage: :every <interval> <max-runs> <command...>")
			return false
		}
		interval, err := time.ParseDuration(fields[1])
		if err != nil {
			fmt.Println("bad interval:", err)
			return false
		}
		maxRuns, err := strconv.Atoi(fields[2])
		if err != nil {
			fmt.Println("bad max-runs:", err)
			return false
		}
		raw := strings.Join(fields[3:], " ")
		id, err := deps.scheduler.Every(interval, maxRuns, raw, consoleMessage())
		if err != nil {
			fmt.Println("schedule:", err)
			return false
		}
		fmt.Println("scheduled", id)
	case "schedules":
		for _, info := range deps.scheduler.List() {
			fmt.Printf("%s %q recurring=%v runs=%d paused=%v\n",
				info.ID, info.Command, info.Recurring, info.Runs, info.Paused)
		}
	case "cancel":
		if len(fields) == 2 {
			fmt.Println("cancelled:", deps.scheduler.Cancel(fields[1]))
		}
	case "cooldown":
		switch len(fields) {
		case 2:
			deps.cooldowns.Clear(fields[1])
			fmt.Println("cooldown cleared for", fields[1])
		case 3, 4:
			user, err := time.ParseDuration(fields[2])
			if err != nil {
				fmt.Println("bad duration:", err)
				return false
			}
			var global time.Duration
			if len(fields) == 4 {
				if global, err = time.ParseDuration(fields[3]); err != nil {
					fmt.Println("bad duration:", err)
					return false
				}
			}
			deps.cooldowns.Set(fields[1], cooldown.Setting{User: user, Global: global})
		default:
			fmt.Println("usage: :cooldown <command> [user-window [global-window]]")
		}
	case "history":
		user := "console"
		if len(fields) == 2 {
			user = fields[1]
		}
		entries, cursor := deps.history.List(user)
		for i, e := range entries {
			marker := " "
			if i >= cursor {
				marker = "*" // undone, awaiting redo
			}
			fmt.Printf("%s %s %q %v\n", marker, e.Time.Format(time.TimeOnly), e.Command, e.Args)
		}
	case "macro":
		if len(fields) < 3 {
			fmt.Println("usage: :macro <name> <cmd;cmd;...>")
			return false
		}
		err := deps.macros.Define(deferred.Macro{
			Name:     fields[1],
			Commands: strings.Split(strings.Join(fields[2:], " "), ";"),
		})
		if err != nil {
			fmt.Println("macro:", err)
		}
	case "run":
		if len(fields) == 2 {
			res, err := deps.macros.Run(context.Background(), fields[1], consoleMessage())
			if err != nil {
				fmt.Println("macro:", err)
				return false
			}
			fmt.Printf("macro %s: success=%v steps=%d\n", res.Macro, res.Success, len(res.Steps))
		}
	default:
		fmt.Println("unknown admin command:", fields[0])
	}
	return false
}

func consoleMessage() dispatch.Message {
	return dispatch.Message{
		UserID:      "console",
		DisplayName: "console",
		Role:        permission.Broadcaster,
	}
}

// loadAliases restores alias mappings persisted by a previous run.
func loadAliases(store *datastore.DataStore, registry *command.Registry, logger *clog.Logger) {
	data, ok := store.Get("aliases")
	if !ok {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	var aliases map[string]string
	if err := json.Unmarshal(raw, &aliases); err != nil {
		return
	}
	for alias, canonical := range aliases {
		if err := registry.RegisterAlias(alias, canonical); err != nil {
			logger.Warn("skipping stored alias", "alias", alias, "err", err)
		}
	}
}

func saveAliases(store *datastore.DataStore, registry *command.Registry) {
	store.Add("aliases", registry.Aliases())
}
