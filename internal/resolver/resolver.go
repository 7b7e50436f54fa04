// Package resolver turns queries and URLs into playable media items and,
// at play time, items into streamable source URLs. Backed by yt-dlp, with
// spotify links translated into equivalent searches.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	ytdlp "github.com/lrstanley/go-ytdlp"
	"github.com/rs/zerolog/log"

	"github.com/joshuajeschek/dandelion/internal/bard"
	"github.com/joshuajeschek/dandelion/internal/config"
)

var (
	// ErrNotFound means the query produced no usable results.
	ErrNotFound = errors.New("no results found")
	// ErrUnavailable means an item exists but cannot be streamed.
	ErrUnavailable = errors.New("stream unavailable")
	// ErrRateLimited means the upstream service refused the request for now.
	ErrRateLimited = errors.New("rate limited by upstream")
)

var installOnce sync.Once

type Resolver struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// Resolve maps a query or URL to media items. A playlist URL (or a
// spotify album/playlist link) yields a populated Playlist; everything
// else yields individual items. Live and upcoming entries are filtered
// out before they can reach a queue.
func (r *Resolver) Resolve(ctx context.Context, query string, searchLimit int) ([]bard.MediaItem, *bard.Playlist, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil, ErrNotFound
	}
	if searchLimit <= 0 {
		searchLimit = 1
	}

	if isSpotify(q) {
		return r.resolveSpotify(ctx, q)
	}

	isURL := strings.HasPrefix(q, "http://") || strings.HasPrefix(q, "https://")
	if isURL && strings.Contains(q, "list=") {
		pl, err := r.resolvePlaylist(ctx, q)
		if err != nil {
			return nil, nil, err
		}
		return nil, pl, nil
	}

	target := q
	if !isURL {
		target = fmt.Sprintf("ytsearch%d:%s", searchLimit, q)
	}

	info, err := fetchInfo(ctx, target)
	if err != nil {
		return nil, nil, errors.Mark(err, ErrNotFound)
	}

	items := itemsFromInfo(info)
	if len(items) == 0 {
		return nil, nil, ErrNotFound
	}
	if len(items) > searchLimit {
		items = items[:searchLimit]
	}
	return items, nil, nil
}

// StreamFor resolves the streamable source URL for an item. Items from
// spotify carry no direct media URL and are located through a search on
// author and title.
func (r *Resolver) StreamFor(ctx context.Context, item bard.MediaItem) (string, error) {
	target := item.URL
	if isSpotify(target) {
		target = "ytsearch1:" + strings.TrimSpace(item.Author+" - "+item.Title)
	}

	info, err := fetchInfo(ctx, target)
	if err != nil {
		return "", errors.Mark(err, ErrUnavailable)
	}
	src := audioURL(info)
	if src == "" {
		return "", errors.Wrapf(ErrUnavailable, "no usable media URL for %s", item.Title)
	}
	return src, nil
}

func (r *Resolver) resolvePlaylist(ctx context.Context, url string) (*bard.Playlist, error) {
	ensureInstalled(ctx)

	cmd := ytdlp.New().
		FlatPlaylist().
		NoCheckCertificates().
		DumpJSON()

	res, err := cmd.Run(ctx, url)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "yt-dlp playlist fetch"), ErrNotFound)
	}
	infos, err := res.GetExtractedInfo()
	if err != nil {
		return nil, errors.Wrap(err, "parse yt-dlp playlist json")
	}
	if len(infos) == 0 || infos[0] == nil {
		return nil, ErrNotFound
	}
	ext := infos[0]

	pl := &bard.Playlist{
		ID:    ext.ID,
		Title: strPtr(ext.Title),
		URL:   strPtr(ext.WebpageURL),
	}
	for _, e := range ext.Entries {
		if e == nil {
			continue
		}
		item := entryToItem(e)
		if !item.Playable() {
			log.Debug().Str("title", item.Title).Msg("skipping unplayable playlist entry")
			continue
		}
		pl.Items = append(pl.Items, item)
	}
	pl.EstimatedItemCount = len(pl.Items)
	if len(pl.Items) == 0 {
		return nil, ErrNotFound
	}
	return pl, nil
}

func ensureInstalled(ctx context.Context) {
	installOnce.Do(func() {
		ytdlp.MustInstall(ctx, nil)
	})
}

// fetchInfo runs yt-dlp -J with the audio-first format selection.
func fetchInfo(ctx context.Context, target string) (*ytdlp.ExtractedInfo, error) {
	ensureInstalled(ctx)

	cmd := ytdlp.New().
		Format("ba[acodec^=opus]/ba[ext=m4a]/bestaudio/best").
		NoCheckCertificates().
		DumpJSON()

	res, err := cmd.Run(ctx, target)
	if err != nil {
		if strings.Contains(err.Error(), "429") || strings.Contains(err.Error(), "Too Many Requests") {
			return nil, errors.Mark(err, ErrRateLimited)
		}
		return nil, errors.Wrap(err, "yt-dlp run")
	}
	infos, err := res.GetExtractedInfo()
	if err != nil {
		return nil, errors.Wrap(err, "parse yt-dlp json")
	}
	if len(infos) == 0 || infos[0] == nil {
		return nil, errors.New("yt-dlp returned no info")
	}
	return infos[0], nil
}

// itemsFromInfo flattens a search/playlist container, or wraps a single
// video, into validated media items.
func itemsFromInfo(info *ytdlp.ExtractedInfo) []bard.MediaItem {
	var out []bard.MediaItem
	if len(info.Entries) > 0 {
		for _, e := range info.Entries {
			if e == nil {
				continue
			}
			if item := entryToItem(e); item.Playable() {
				out = append(out, item)
			}
		}
		return out
	}
	if item := entryToItem(info); item.Playable() {
		out = append(out, item)
	}
	return out
}

func entryToItem(e *ytdlp.ExtractedInfo) bard.MediaItem {
	url := strPtr(e.WebpageURL)
	if url == "" && e.ID != "" {
		url = "https://www.youtube.com/watch?v=" + e.ID
	}
	item := bard.MediaItem{
		ID:          e.ID,
		Title:       strPtr(e.Title),
		URL:         url,
		Author:      strPtr(e.Uploader),
		Description: strPtr(e.Description),
		Duration:    int(floatPtr(e.Duration)),
		IsLive:      boolPtr(e.IsLive),
		IsUpcoming:  e.LiveStatus != nil && *e.LiveStatus == ytdlp.ExtractedLiveStatusIsUpcoming,
	}
	for _, t := range e.Thumbnails {
		if t != nil && t.URL != "" {
			item.Thumbnail = t.URL
			break
		}
	}
	return item
}

// audioURL picks the best playable URL from extracted info: requested
// formats first, then the top-level url, then the format list.
func audioURL(info *ytdlp.ExtractedInfo) string {
	pickHTTP := func(u string) bool { return strings.HasPrefix(u, "http") }

	src := info
	if len(info.Entries) > 0 && info.Entries[0] != nil {
		src = info.Entries[0]
	}
	for _, f := range src.RequestedFormats {
		if f != nil && pickHTTP(f.URL) {
			return f.URL
		}
	}
	if u := strPtr(src.URL); pickHTTP(u) {
		return u
	}
	for _, f := range src.Formats {
		if f != nil && pickHTTP(f.URL) {
			return f.URL
		}
	}
	return ""
}

func strPtr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func floatPtr(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func boolPtr(p *bool) bool {
	if p == nil {
		return false
	}
	return *p
}
