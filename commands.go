package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/deemkeen/murmur/ui"
	"github.com/deemkeen/murmur/util"
	"github.com/deemkeen/murmur/web"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// withApp wires the components for the duration of one command.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, conf, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the delivery worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, serve)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	if conf.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler, err := web.NewRouter(ctx, web.Dependencies{
		Config:   conf,
		Database: a.db,
		Service:  a.service,
		Inbox:    a.inbox,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              conf.ListenAddress(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(signalCtx)
	g.Go(func() error {
		a.delivery.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("server starting",
			zap.String("address", conf.ListenAddress()),
			zap.String("origin", conf.Origin()),
			zap.String("version", util.GetVersion()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup <username> <name>",
		Short: "Create a local user",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				actor, err := a.service.Setup(ctx, args[0], strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), ui.RenderActor("Created", actor))
				return nil
			})
		},
	}
}

func postCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "post <username> <content>",
		Short: "Publish a post and queue it for the user's followers",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				post, err := a.service.CreatePost(ctx, args[0], strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", ui.CaptionStyle.Render("Posted"), post.URI)
				return nil
			})
		},
	}
}

func followCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "follow <username> <handle|uri>",
		Short: "Ask a remote actor to accept the user as follower",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				actor, err := a.service.Follow(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), ui.RenderActor("Follow requested", actor))
				return nil
			})
		},
	}
}

func timelineCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "timeline <username>",
		Short: "Show the user's timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				posts, err := a.service.Timeline(ctx, args[0], limit, offset)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), ui.RenderTimeline(args[0], posts, time.Now()))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of posts")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of posts to skip")
	return cmd
}

func followersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "followers <username>",
		Short: "List the user's followers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if _, err := a.service.ResolveLocal(ctx, args[0]); err != nil {
					return err
				}
				followers, err := a.db.ReadFollowers(ctx, args[0], -1, 0)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), ui.RenderActors(fmt.Sprintf("Followers of %s", args[0]), followers))
				return nil
			})
		},
	}
}

func followingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "following <username>",
		Short: "List the actors the user follows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if _, err := a.service.ResolveLocal(ctx, args[0]); err != nil {
					return err
				}
				following, err := a.db.ReadFollowing(ctx, args[0], -1, 0)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), ui.RenderActors(fmt.Sprintf("Followed by %s", args[0]), following))
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := conf.YAML()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	})
	return cmd
}
