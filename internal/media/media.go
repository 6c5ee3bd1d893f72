// Package media finds the photos and videos of a thread and stores them locally.
package media

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/itai-hania/HFI/internal/thread"
)

// Status is the lifecycle state of one media item.
type Status string

const (
	// StatusPending items were discovered but not attempted yet.
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	// StatusSkipped items were deliberately not downloaded (for example with
	// media disabled). A later run may still fetch them.
	StatusSkipped Status = "skipped"
)

// Download is a MediaRef plus what happened when it was fetched. LocalPath is
// non-nil exactly when Status is StatusSuccess.
type Download struct {
	thread.MediaRef
	LocalPath *string `json:"local_path"`
	Status    Status  `json:"status"`
	Size      int64   `json:"size"`
	Error     string  `json:"error,omitempty"`
}

// Pending wraps refs as not-yet-attempted downloads.
func Pending(refs []thread.MediaRef) []Download {
	out := make([]Download, len(refs))
	for i, r := range refs {
		out[i] = Download{MediaRef: r, Status: StatusPending}
	}
	return out
}

// Skip marks pending items as skipped and reports how many changed. Items
// already attempted keep their state.
func Skip(items []Download) ([]Download, int) {
	out := make([]Download, len(items))
	n := 0
	for i, d := range items {
		if d.Status == StatusPending {
			d.Status = StatusSkipped
			n++
		}
		out[i] = d
	}
	return out, n
}

// Merge reconciles stored download state with freshly collected refs. Refs
// already known keep their stored state; new refs are appended as pending.
// Stored items no longer collected are kept, so a shorter traversal never
// discards downloaded files.
func Merge(stored []Download, refs []thread.MediaRef) []Download {
	out := append([]Download(nil), stored...)
	known := make(map[string]bool, len(stored))
	for _, d := range stored {
		known[d.SourceURI] = true
	}
	for _, r := range refs {
		if known[r.SourceURI] {
			continue
		}
		known[r.SourceURI] = true
		out = append(out, Download{MediaRef: r, Status: StatusPending})
	}
	return out
}

// ByPost groups downloads by owning post id, keeping their order.
func ByPost(items []Download) map[string][]Download {
	out := make(map[string][]Download)
	for _, d := range items {
		out[d.PostID] = append(out[d.PostID], d)
	}
	return out
}

// videoIDRe pulls the media id shared by a video's poster and its manifests.
var videoIDRe = regexp.MustCompile(`/(?:ext_tw_video|amplify_video)(?:_thumb)?/(\d+)/`)

// gifThumbRe matches animated GIF posters, served as mp4 under tweet_video.
var gifThumbRe = regexp.MustCompile(`/tweet_video_thumb/([A-Za-z0-9_-]+)\.`)

// Collect lists the media of every post in res. Photos come from the DOM and
// are upgraded to the large rendition. Video hints from the DOM (posters) are
// resolved against the network resources observed during traversal; a video
// with no observed manifest falls back to its post permalink, which the
// stream extractor can resolve on its own.
func Collect(res thread.Result) []thread.MediaRef {
	var refs []thread.MediaRef
	type key struct{ post, uri string }
	seen := make(map[key]bool)
	add := func(r thread.MediaRef) {
		k := key{r.PostID, r.SourceURI}
		if r.SourceURI == "" || seen[k] {
			return
		}
		seen[k] = true
		refs = append(refs, r)
	}

	for _, p := range res.Posts {
		for _, m := range p.Media {
			switch m.Type {
			case thread.Photo:
				add(thread.MediaRef{PostID: p.ID, Type: thread.Photo, SourceURI: largePhoto(m.SourceURI)})
			case thread.Video:
				add(thread.MediaRef{PostID: p.ID, Type: thread.Video, SourceURI: resolveVideo(m.SourceURI, p.Permalink, res.Resources)})
			}
		}
	}
	return refs
}

func largePhoto(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host != "pbs.twimg.com" || !strings.HasPrefix(u.Path, "/media/") {
		return raw
	}
	q := u.Query()
	q.Set("name", "large")
	u.RawQuery = q.Encode()
	return u.String()
}

func resolveVideo(hint, permalink string, resources []string) string {
	if strings.HasPrefix(hint, "https://video.twimg.com/") {
		return hint
	}
	if m := gifThumbRe.FindStringSubmatch(hint); m != nil {
		return "https://video.twimg.com/tweet_video/" + m[1] + ".mp4"
	}
	if m := videoIDRe.FindStringSubmatch(hint); m != nil {
		if manifest := masterManifest(m[1], resources); manifest != "" {
			return manifest
		}
	}
	return permalink
}

// masterManifest picks the shortest manifest carrying the media id; variant
// playlists nest deeper under the master.
func masterManifest(id string, resources []string) string {
	var candidates []string
	for _, r := range resources {
		u, err := url.Parse(r)
		if err != nil || !strings.HasSuffix(u.Path, ".m3u8") {
			continue
		}
		if strings.Contains(u.Path, "/"+id+"/") {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return strings.Count(candidates[i], "/") < strings.Count(candidates[j], "/")
	})
	return candidates[0]
}
