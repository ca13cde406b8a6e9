// Package record turns raw registry documents into indexable search records.
// Formatting is a pure function of the document bytes; a nil record with a
// nil error means the document is not indexable under current rules
package record

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	perr "pkgsearch/internal/platform/errors"

	"pkgsearch/internal/adapters/search"
)

// RefreshTTL is how long an indexed record stays fresh before the refresh
// scanner considers it stale
const RefreshTTL = 30 * 24 * time.Hour

// epochWidth pads expiry epochs so the alpha facet sort is numeric.
// 13 digits covers unix milliseconds until the year 2286
const epochWidth = 13

type maintainer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type versionDoc struct {
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
	Deprecated  string   `json:"deprecated"`
}

type packageDoc struct {
	ID          string                `json:"_id"`
	Rev         string                `json:"_rev"`
	Name        string                `json:"name"`
	Description string                `json:"description"`
	DistTags    map[string]string     `json:"dist-tags"`
	Versions    map[string]versionDoc `json:"versions"`
	Time        map[string]any        `json:"time"`
	Maintainers []maintainer          `json:"maintainers"`
}

// Formatter builds search records with a fixed clock seam for tests
type Formatter struct {
	now func() time.Time
}

// New returns a Formatter using the wall clock
func New() *Formatter { return &Formatter{now: time.Now} }

// NewAt returns a Formatter with a fixed clock
func NewAt(now func() time.Time) *Formatter { return &Formatter{now: now} }

// Format parses the raw document and builds the record for it.
// Returns (nil, nil) when the package should not be indexed
func (f *Formatter) Format(id string, raw []byte) (*search.Record, error) {
	var doc packageDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "parse document %s", id)
	}
	if doc.Name == "" {
		doc.Name = doc.ID
	}
	if doc.Name == "" {
		doc.Name = id
	}

	// unpublished packages carry a time.unpublished marker and no versions
	if _, gone := doc.Time["unpublished"]; gone {
		return nil, nil
	}
	if len(doc.Versions) == 0 || len(doc.DistTags) == 0 {
		return nil, nil
	}
	latest := doc.DistTags["latest"]
	if latest == "" {
		return nil, nil
	}
	ver, ok := doc.Versions[latest]
	if !ok {
		return nil, nil
	}
	if strings.HasPrefix(strings.ToLower(doc.Description), "security holding package") {
		return nil, nil
	}

	desc := ver.Description
	if desc == "" {
		desc = doc.Description
	}

	modified := f.modifiedAt(doc)
	rec := &search.Record{
		ObjectID:    doc.Name,
		Name:        doc.Name,
		Version:     latest,
		Description: desc,
		Keywords:    ver.Keywords,
		Deprecated:  ver.Deprecated,
		Modified:    modified.UnixMilli(),
		Rev:         doc.Rev,
		SearchInternal: search.SearchInternal{
			ExpiresAt: PadEpoch(modified.Add(RefreshTTL).UnixMilli()),
		},
	}
	if len(doc.Maintainers) > 0 {
		rec.Owner = doc.Maintainers[0].Name
	}
	return rec, nil
}

// modifiedAt prefers the document's modified stamp and falls back to now
func (f *Formatter) modifiedAt(doc packageDoc) time.Time {
	if v, ok := doc.Time["modified"]; ok {
		if s, ok := v.(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				return t.UTC()
			}
		}
	}
	return f.now().UTC()
}

// PadEpoch renders a unix-millisecond epoch at fixed width so lexical
// ordering of facet values matches numeric ordering
func PadEpoch(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%0*d", epochWidth, ms)
}
