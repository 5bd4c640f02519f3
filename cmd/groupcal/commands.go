package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"groupcal/internal/calendar"
	"groupcal/internal/client"
	"groupcal/internal/config"
	"groupcal/internal/envelope"
	"groupcal/internal/ics"
	appLog "groupcal/internal/log"
	"groupcal/internal/mapi"
	"groupcal/internal/mapi/memstore"
	"groupcal/internal/mapi/sqlitestore"
	"groupcal/internal/module"
	"groupcal/internal/recurrence"
	"groupcal/internal/router"
	"groupcal/internal/web"
)

func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	conf, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	return conf, nil
}

// store is the mailbox backing the server and the importer.
type store interface {
	mapi.Store
	mapi.Writer
}

func openStore(conf *config.Config) (store, func() error, error) {
	switch conf.Store.Driver {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(conf.Store.Path), 0o700); err != nil {
			return nil, nil, err
		}
		s, err := sqlitestore.Open(conf.Store.Path, conf.Store.Owner)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return memstore.New(conf.Store.Owner), func() error { return nil }, nil
	}
}

func sources(conf *config.Config) []ics.Source {
	out := make([]ics.Source, 0, len(conf.ICS))
	for _, s := range conf.ICS {
		if s.URL == "" {
			continue
		}
		id := s.ID
		if id == "" {
			id = s.Name
		}
		if id == "" {
			id = s.URL
		}
		out = append(out, ics.Source{ID: id, Name: s.Name, URL: s.URL})
	}
	return out
}

func location(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Warn("unknown timezone, using UTC", "timezone", name)
		return time.UTC
	}
	return loc
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the module endpoint and keep subscriptions imported.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "HTTP listen address (overrides config)"},
		},
		Action: func(c *cli.Context) error {
			conf, err := loadConfig(c)
			if err != nil {
				return err
			}
			if l := c.String("listen"); l != "" {
				conf.Listen = l
			}
			appLog.Info("groupcal starting",
				"version", version,
				"listen", conf.Listen,
				"store", conf.Store.Driver,
				"owner", conf.Store.Owner,
				"ics_count", len(conf.ICS),
			)

			st, closeStore, err := openStore(conf)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() {
				if err := closeStore(); err != nil {
					appLog.Error("close store", err)
				}
			}()

			d := module.NewDispatcher(module.Settings{PageSize: conf.PageSize})
			d.Register(calendar.ModuleName, calendar.NewFactory(recurrence.NewEngine()))
			sessions := func(_ context.Context, user string) mapi.Session {
				return memstore.NewSession(user, st)
			}

			var importer *ics.Importer
			var refresher web.Refresher
			if srcs := sources(conf); len(srcs) > 0 {
				importer = ics.NewImporter(ics.NewFetcher(conf.CacheDir, nil), st, srcs, location(conf.Timezone))
				refresher = importer
			}

			g, ctx := errgroup.WithContext(c.Context)
			g.Go(func() error {
				return web.NewServer(conf, d, sessions, refresher).ListenAndServe(ctx)
			})
			if importer != nil {
				g.Go(func() error { return importer.Schedule(ctx, conf.RefreshCron) })
			}
			err = g.Wait()
			appLog.Info("groupcal exiting")
			return err
		},
	}
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import the configured subscriptions, or one local .ics file, once.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Usage: "local .ics file to import instead of the subscriptions"},
			&cli.StringFlag{Name: "folder", Value: "Calendar", Usage: "folder name for --file"},
		},
		Action: func(c *cli.Context) error {
			conf, err := loadConfig(c)
			if err != nil {
				return err
			}
			if conf.Store.Driver != "sqlite" {
				appLog.Warn("memory store selected; imported items are discarded on exit")
			}
			st, closeStore, err := openStore(conf)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer closeStore()

			im := ics.NewImporter(ics.NewFetcher(conf.CacheDir, nil), st, sources(conf), location(conf.Timezone))
			if file := c.String("file"); file != "" {
				body, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				folder := c.String("folder")
				return im.ImportBody(c.Context, ics.Source{ID: filepath.Base(file), Name: folder}, body)
			}
			if len(conf.ICS) == 0 {
				return errors.New("no subscriptions configured")
			}
			return im.Refresh(c.Context)
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List the appointments of a calendar folder through a running server.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://127.0.0.1:8080/api/modules", Usage: "module endpoint"},
			&cli.StringFlag{Name: "user", EnvVars: []string{"GROUPCAL_USER"}},
			&cli.StringFlag{Name: "password", EnvVars: []string{"GROUPCAL_PASSWORD"}},
			&cli.StringFlag{Name: "store", Usage: "store entry id (hex); default store when empty"},
			&cli.StringFlag{Name: "folder", Required: true, Usage: "folder entry id (hex)"},
			&cli.TimestampFlag{Name: "from", Layout: "2006-01-02", Usage: "window start (default today)"},
			&cli.IntFlag{Name: "days", Value: 7, Usage: "window length in days"},
			&cli.StringFlag{Name: "tz", Usage: "client IANA timezone"},
			&cli.StringFlag{Name: "lang", Value: "en"},
		},
		Action: func(c *cli.Context) error {
			from := time.Now().UTC().Truncate(24 * time.Hour)
			if t := c.Timestamp("from"); t != nil {
				from = t.UTC()
			}
			to := from.AddDate(0, 0, c.Int("days"))

			data := map[string]any{
				"entryid": c.String("folder"),
				"restriction": map[string]any{
					"startdate": from.Unix(),
					"duedate":   to.Unix(),
				},
			}
			if s := c.String("store"); s != "" {
				data["store_entryid"] = s
			}
			if tz := c.String("tz"); tz != "" {
				data["timezone_iana"] = tz
			}

			opts := []client.Option{client.WithLanguage(c.String("lang"))}
			if u := c.String("user"); u != "" {
				opts = append(opts, client.WithBasicAuth(u, c.String("password")))
			}
			rt := router.New(router.NewRegistry(), nil)
			rt.OnException(func(*envelope.Envelope) {
				appLog.Warn("server rejected the request")
			})
			cl := client.New(c.String("url"), rt, opts...)

			h := client.NewListHandler()
			req := client.NewRequest()
			req.Add(calendar.ModuleName, "list", data, h)
			if err := cl.Send(c.Context, req); err != nil {
				return err
			}
			if err := h.Err(); err != nil {
				return err
			}
			printItems(c.App.Writer, h.Items)
			return nil
		},
	}
}
