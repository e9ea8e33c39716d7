// Package record defines the data flowing through the collection and
// analysis pipelines: strongly typed collected videos and the
// semi-structured records produced by merging model output onto them.
package record

// Keys used when a Video is rendered as Fields.
const (
	KeyVideoID     = "video_id"
	KeyURL         = "url"
	KeyTitle       = "title"
	KeyPublishDate = "publish_date"
)

const watchURLPrefix = "https://www.youtube.com/watch?v="

// Video is a single search hit. ID is its identity: a collected set never
// holds two videos with the same ID.
type Video struct {
	ID          string `json:"video_id"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	PublishDate string `json:"publish_date"`
}

// WatchURL returns the canonical watch URL for a video id.
func WatchURL(id string) string {
	return watchURLPrefix + id
}

// Fields renders the video as an ordered field set.
func (v Video) Fields() *Fields {
	f := NewFields()
	f.Set(KeyVideoID, v.ID)
	f.Set(KeyURL, v.URL)
	f.Set(KeyTitle, v.Title)
	f.Set(KeyPublishDate, v.PublishDate)
	return f
}

// Overlay returns a copy of base with every field of top set on it.
// Fields from top win on key collision; base and top are left untouched.
func Overlay(base, top *Fields) *Fields {
	out := base.Clone()
	if top == nil {
		return out
	}
	for _, k := range top.keys {
		out.Set(k, top.values[k])
	}
	return out
}

// Merge combines a collected video with its analysis result. Analysis
// fields take precedence over collected fields of the same name.
func Merge(v Video, analysis *Fields) *Fields {
	return Overlay(v.Fields(), analysis)
}

// VideosToFields renders a slice of videos for output sinks.
func VideosToFields(videos []Video) []*Fields {
	out := make([]*Fields, 0, len(videos))
	for _, v := range videos {
		out = append(out, v.Fields())
	}
	return out
}
