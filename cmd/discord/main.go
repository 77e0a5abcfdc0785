// Command discord is a thin Discord adapter for the dispatch engine: guild
// messages are fed through the pipeline and command results are sent back to
// the originating channel. All command semantics live in the engine; this
// binary only maps Discord events and permissions onto the engine's message
// shape.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/discordgo"

	"github.com/Loggableim/chatcmd/internal/audit"
	"github.com/Loggableim/chatcmd/internal/command"
	"github.com/Loggableim/chatcmd/internal/config"
	"github.com/Loggableim/chatcmd/internal/cooldown"
	"github.com/Loggableim/chatcmd/internal/dispatch"
	"github.com/Loggableim/chatcmd/internal/logging"
	"github.com/Loggableim/chatcmd/internal/permission"
	"github.com/Loggableim/chatcmd/pkg/tokenbucket"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel)
	if cfg.DiscordToken == "" {
		logger.Fatal("DISCORD_TOKEN is not set")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := command.NewRegistry()
	cooldowns := cooldown.New()
	limiter := tokenbucket.New(tokenbucket.Config{
		Global:  tokenbucket.Bucket{Capacity: cfg.GlobalCapacity, Refill: cfg.GlobalRefill, Interval: cfg.BucketInterval},
		PerUser: tokenbucket.Bucket{Capacity: cfg.UserCapacity, Refill: cfg.UserRefill, Interval: cfg.BucketInterval},
		MaxIdle: cfg.BucketMaxIdle,
	})

	d, err := dispatch.New(dispatch.Config{
		Prefix:        cfg.Prefix,
		MaxMessageLen: cfg.MaxMessageLen,
		Registry:      registry,
		Limiter:       limiter,
		Cooldowns:     cooldowns,
		Audit:         audit.NewLog(cfg.AuditCapacity),
		History:       audit.NewHistoryStore(0),
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("build dispatcher", "err", err)
	}

	registerBuiltins(registry, cfg.Prefix)

	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		logger.Fatal("create session", "err", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		res := d.Dispatch(ctx, dispatch.Message{
			Raw:         m.Content,
			UserID:      m.Author.ID,
			DisplayName: m.Author.Username,
			Role:        roleFor(s, m),
			Payload:     m,
		})
		if !res.IsCommand {
			return
		}
		reply := res.Message
		if !res.Success {
			reply = res.Error
			if res.Suggestion != "" {
				reply += "\n" + res.Suggestion
			}
		}
		if reply != "" {
			if _, err := s.ChannelMessageSend(m.ChannelID, reply); err != nil {
				logger.Warn("send reply", "channel", m.ChannelID, "err", err)
			}
		}
	})

	if err := session.Open(); err != nil {
		logger.Fatal("open gateway", "err", err)
	}
	defer session.Close()
	logger.Info("discord host ready", "prefix", cfg.Prefix)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}

// roleFor maps Discord channel permissions onto the engine's role hierarchy:
// administrators act as broadcaster, message managers as moderator, everyone
// else as a plain viewer.
func roleFor(s *discordgo.Session, m *discordgo.MessageCreate) permission.Level {
	perms, err := s.UserChannelPermissions(m.Author.ID, m.ChannelID)
	if err != nil {
		return permission.All
	}
	switch {
	case perms&discordgo.PermissionAdministrator != 0:
		return permission.Broadcaster
	case perms&discordgo.PermissionManageMessages != 0:
		return permission.Moderator
	default:
		return permission.All
	}
}
