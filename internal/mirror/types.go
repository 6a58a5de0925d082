package mirror

import (
	"regexp"
	"strconv"
	"time"
)

// MetadataUpdated is the object metadata key carrying the body's updated epoch.
const MetadataUpdated = "updated"

// IndexObjectKey is the fixed key of the aggregated on-this-day artifact.
const IndexObjectKey = "on-this-day-index.json"

// JSONContentType is used for every object the mirror writes.
const JSONContentType = "application/json"

var fourDigits = regexp.MustCompile(`^\d{4}$`)

// IsDayKey reports whether title is a four digit calendar slot (MMDD).
func IsDayKey(title string) bool {
	return fourDigits.MatchString(title)
}

// IsYearKey reports whether s is a four digit year.
func IsYearKey(s string) bool {
	return fourDigits.MatchString(s)
}

// ContentKey returns the object store key for a source page.
func ContentKey(sourceID string) string {
	return sourceID + ".json"
}

// ListItem is one entry of the source's paginated page list.
type ListItem struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Image   *string `json:"image"`
	Created int64   `json:"created"`
	Updated int64   `json:"updated"`
	Pin     int64   `json:"pin"`
}

// Pinned reports whether the source pins the item to the top of the list.
func (i ListItem) Pinned() bool {
	return i.Pin != 0
}

// ListPage is one chunk of the source list.
type ListPage struct {
	Count int        `json:"count"`
	Pages []ListItem `json:"pages"`
}

// PageRef is the minimal tuple handed from the dispatcher to a batch.
type PageRef struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Updated int64  `json:"updated"`
}

// Line is a single line of mirrored content.
type Line struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Created int64  `json:"created"`
	Updated int64  `json:"updated"`
}

// MirroredContent is the verbatim page detail persisted to the object store.
type MirroredContent struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Image   *string `json:"image"`
	Created int64   `json:"created"`
	Updated int64   `json:"updated"`
	Lines   []Line  `json:"lines"`
}

// Metadata returns the side-channel metadata stored alongside the body.
func (c MirroredContent) Metadata() map[string]string {
	return map[string]string{MetadataUpdated: strconv.FormatInt(c.Updated, 10)}
}

// Text joins the content lines with newlines, title line first.
func (c MirroredContent) Text() string {
	n := 0
	for _, l := range c.Lines {
		n += len(l.Text) + 1
	}
	buf := make([]byte, 0, n)
	for i, l := range c.Lines {
		if i > 0 {
			buf = append(buf, '\n')
		}
		buf = append(buf, l.Text...)
	}
	return string(buf)
}

// PageRecord is the relational row for a mirrored page.
type PageRecord struct {
	ID       int64
	Title    string
	SourceID string
	Created  time.Time
	Updated  time.Time
	Image    *string
}

// PageRecordFromContent maps a source detail onto the relational row shape.
func PageRecordFromContent(c MirroredContent) PageRecord {
	return PageRecord{
		Title:    c.Title,
		SourceID: c.ID,
		Created:  time.Unix(c.Created, 0).UTC(),
		Updated:  time.Unix(c.Updated, 0).UTC(),
		Image:    c.Image,
	}
}

// PageTitle pairs a relational id with its title.
type PageTitle struct {
	ID    int64
	Title string
}

// DayPage is a candidate for temporal extraction.
type DayPage struct {
	ID       int64
	Title    string
	SourceID string
	Updated  time.Time
}

// TemporalCrossReference links a day page to a target page for one year.
type TemporalCrossReference struct {
	SourcePageID int64
	TargetPageID int64
	Year         int
}

// DayYearCount is one grouped row feeding the index aggregator.
type DayYearCount struct {
	DayKey string
	Year   int
	Count  int
}

// UnclassifiedPage is a page without an article, exclusion or clip record.
type UnclassifiedPage struct {
	ID      int64
	Title   string
	Created time.Time
}

// DayPageQuery selects day pages for extraction.
type DayPageQuery struct {
	UpdatedSince time.Time
	// Start and End bound the MMDD title range inclusively when non-empty.
	Start string
	End   string
}
