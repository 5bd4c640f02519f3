package ics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "groupcal/internal/log"
	"groupcal/internal/mapi"
)

// Importer keeps one calendar folder per source in sync with its feed.
type Importer struct {
	fetcher *Fetcher
	store   mapi.Writer
	sources []Source
	loc     *time.Location

	mu sync.Mutex
}

// NewImporter returns an Importer writing into store. loc is the zone
// assumed for floating and date-only feed values.
func NewImporter(fetcher *Fetcher, store mapi.Writer, sources []Source, loc *time.Location) *Importer {
	if loc == nil {
		loc = time.UTC
	}
	return &Importer{fetcher: fetcher, store: store, sources: sources, loc: loc}
}

// Refresh fetches every source and replaces the contents of its folder.
// A failing source keeps its previous contents; the failures are joined
// into the returned error.
func (im *Importer) Refresh(ctx context.Context) error {
	im.mu.Lock()
	defer im.mu.Unlock()

	results, errs := im.fetcher.FetchAll(ctx, im.sources)
	for _, res := range results {
		if err := im.importOne(ctx, res); err != nil {
			appLog.Error("ics: import failed", err, "id", res.Source.ID)
			errs = append(errs, fmt.Errorf("%s: %w", res.Source.ID, err))
		}
	}
	return errors.Join(errs...)
}

// ImportBody parses body as the feed of src and stores it.
func (im *Importer) ImportBody(ctx context.Context, src Source, body []byte) error {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.importOne(ctx, FetchResult{Source: src, Body: body})
}

func (im *Importer) importOne(ctx context.Context, res FetchResult) error {
	events, err := ParseICS(res.Source, res.Body, im.loc)
	if err != nil {
		return err
	}
	folder, err := im.store.EnsureFolder(ctx, res.Source.FolderName())
	if err != nil {
		return err
	}
	msgs := BuildMessages(events, im.loc)
	if err := im.store.ReplaceContents(ctx, folder, msgs); err != nil {
		return err
	}
	appLog.Info("ics: imported", "id", res.Source.ID, "folder", res.Source.FolderName(),
		"events", len(events), "messages", len(msgs), "from_cache", res.FromCache)
	return nil
}

// Schedule runs Refresh on the cron spec until ctx is done. The first
// refresh runs immediately.
func (im *Importer) Schedule(ctx context.Context, spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if err := im.Refresh(ctx); err != nil {
			appLog.Warn("ics: scheduled refresh incomplete", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}

	if err := im.Refresh(ctx); err != nil {
		appLog.Warn("ics: initial refresh incomplete", "err", err)
	}
	c.Start()
	appLog.Info("ics: refresh scheduled", "spec", spec, "sources", len(im.sources))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
