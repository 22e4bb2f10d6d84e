package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"agendabot/internal/delivery/channels"
	"agendabot/internal/delivery/channels/console"
	"agendabot/internal/delivery/channels/lark"
	"agendabot/internal/delivery/channels/web"
	"agendabot/internal/delivery/server"
	"agendabot/internal/shared/logging"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the hub, the reminder scheduler and the enabled channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := buildContainer(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() {
				if err := c.Close(); err != nil {
					c.Logger.Warn("Shutdown: %v", err)
				}
			}()
			return serve(ctx, c)
		},
	}
}

// serve runs until ctx is done or a core task fails. Chat channel failures
// are logged and leave the rest of the bot running.
func serve(ctx context.Context, c *Container) error {
	cfg := c.Config
	base := channels.BaseConfig{FeedbackTimeout: cfg.Channels.FeedbackTimeout}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.Hub.Run(ctx) })
	g.Go(func() error { return c.Scheduler.Run(ctx) })

	if cfg.Channels.Console.Enabled {
		con := console.New(console.Config{BaseConfig: base, Sender: cfg.Channels.Console.Sender},
			c.Hub, c.Agenda, c.Signal, c.Logger.Component("console"), c.Metrics)
		g.Go(channelTask(ctx, c.Logger, "console", con.Run))
	}

	if lc := cfg.Channels.Lark; lc.Enabled {
		gw, err := lark.NewGateway(lark.Config{
			BaseConfig:    base,
			Enabled:       true,
			AppID:         lc.AppID,
			AppSecret:     lc.AppSecret,
			ChatID:        lc.ChatID,
			BaseDomain:    lc.BaseDomain,
			AckEmoji:      lc.AckEmoji,
			SendRate:      lc.SendRate,
			SendBurst:     lc.SendBurst,
			NameCacheSize: lc.NameCacheSize,
		}, c.Hub, c.Agenda, c.Signal, c.Logger.Component("lark"), c.Metrics)
		if err != nil {
			c.Logger.Error("Lark channel disabled: %v", err)
		} else {
			g.Go(channelTask(ctx, c.Logger, "lark", gw.Start))
		}
	}

	if cfg.HTTP.Enabled {
		var ws *web.Handler
		if cfg.Channels.Web.Enabled {
			ws = web.NewHandler(web.Config{BaseConfig: base}, c.Hub, c.Agenda, c.Signal, c.Logger.Component("web"), c.Metrics)
		}
		srv := server.New(server.Config{
			Addr:           cfg.HTTP.Addr,
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
			Version:        version,
		}, c.Hub, c.Metrics, wsHandler(ws), c.Logger.Component("http"))
		// Unlike a chat channel, a server that cannot listen is a startup failure.
		g.Go(func() error {
			err := srv.Run(ctx)
			if ws != nil {
				ws.Close()
			}
			return err
		})
	}

	c.Logger.Info("agendabot %s running (%s)", version, cfg)
	if err := g.Wait(); err != nil {
		return fmt.Errorf("agendabot stopped: %w", err)
	}
	c.Logger.Info("agendabot stopped")
	return nil
}

// channelTask runs fn and absorbs its error so one broken channel does not
// stop the errgroup.
func channelTask(ctx context.Context, logger logging.Logger, name string, fn func(context.Context) error) func() error {
	return func() error {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Channel %s stopped: %v", name, err)
		}
		return nil
	}
}

// wsHandler avoids handing server.New a typed nil.
func wsHandler(h *web.Handler) http.Handler {
	if h == nil {
		return nil
	}
	return h
}
