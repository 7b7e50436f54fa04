package resolver

import (
	"context"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/joshuajeschek/dandelion/internal/bard"
)

func isSpotify(q string) bool {
	return strings.HasPrefix(q, "spotify:") ||
		strings.Contains(q, "open.spotify.com/")
}

func (r *Resolver) resolveSpotify(ctx context.Context, q string) ([]bard.MediaItem, *bard.Playlist, error) {
	if !r.cfg.SpotifyEnabled() {
		return nil, nil, errors.New("spotify support is not configured")
	}

	cl, err := newSpotifyClient(ctx, r.cfg.SpotifyClientID, r.cfg.SpotifyClientSecret)
	if err != nil {
		return nil, nil, errors.Wrap(err, "spotify auth")
	}

	typ, id, err := parseSpotifyID(q)
	if err != nil {
		return nil, nil, err
	}

	switch typ {
	case "track":
		t, err := cl.GetTrack(ctx, id)
		if err != nil {
			return nil, nil, errors.Mark(err, ErrNotFound)
		}
		return []bard.MediaItem{spotifyItem(t.SimpleTrack)}, nil, nil

	case "album":
		alb, err := cl.GetAlbum(ctx, id)
		if err != nil {
			return nil, nil, errors.Mark(err, ErrNotFound)
		}
		pl := &bard.Playlist{
			ID:     string(id),
			Title:  alb.Name,
			URL:    alb.ExternalURLs["spotify"],
			Author: joinArtists(alb.Artists),
		}
		for _, t := range alb.Tracks.Tracks {
			pl.Items = append(pl.Items, spotifyItem(t))
		}
		pl.EstimatedItemCount = len(pl.Items)
		return nil, pl, nil

	case "playlist":
		spl, err := cl.GetPlaylist(ctx, id)
		if err != nil {
			return nil, nil, errors.Mark(err, ErrNotFound)
		}
		pl := &bard.Playlist{
			ID:          string(id),
			Title:       spl.Name,
			URL:         spl.ExternalURLs["spotify"],
			Author:      spl.Owner.DisplayName,
			Description: spl.Description,
		}
		for _, pt := range spl.Tracks.Tracks {
			pl.Items = append(pl.Items, spotifyItem(pt.Track.SimpleTrack))
		}
		pl.EstimatedItemCount = len(pl.Items)
		return nil, pl, nil

	default:
		return nil, nil, errors.Newf("unsupported spotify type: %s", typ)
	}
}

func newSpotifyClient(ctx context.Context, clientID, clientSecret string) (*spotify.Client, error) {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	return spotify.New(cfg.Client(ctx), spotify.WithRetry(true)), nil
}

// parseSpotifyID understands both spotify: URIs and open.spotify.com URLs.
func parseSpotifyID(raw string) (typ string, id spotify.ID, err error) {
	if strings.HasPrefix(raw, "spotify:") {
		parts := strings.Split(raw, ":")
		if len(parts) == 3 {
			return parts[1], spotify.ID(parts[2]), nil
		}
		return "", "", errors.New("invalid spotify URI")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if !strings.HasSuffix(u.Host, "open.spotify.com") {
		return "", "", errors.New("not a spotify URL")
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return "", "", errors.New("invalid spotify URL path")
	}
	switch parts[0] {
	case "album", "playlist", "track":
		return parts[0], spotify.ID(parts[1]), nil
	}
	return "", "", errors.New("unsupported spotify type")
}

// spotifyItem keeps the canonical spotify URL; the actual stream is
// located later through a search on author and title (see StreamFor).
func spotifyItem(t spotify.SimpleTrack) bard.MediaItem {
	return bard.MediaItem{
		ID:       "spotify:" + string(t.ID),
		Title:    t.Name,
		URL:      "https://open.spotify.com/track/" + string(t.ID),
		Author:   joinArtists(t.Artists),
		Duration: int(t.Duration / 1000), // spotify reports milliseconds
	}
}

func joinArtists(artists []spotify.SimpleArtist) string {
	if len(artists) == 0 {
		return ""
	}
	return artists[0].Name
}
