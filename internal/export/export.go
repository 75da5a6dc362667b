// Package export renders committed versions for the downstream posting
// collaborator. It reads frozen snapshots only and never touches live state.
package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/larkspur/copdesk/internal/cop"
	"github.com/larkspur/copdesk/internal/db"
)

var sectionOrder = []struct {
	key   string
	title string
}{
	{"verified", "Verified"},
	{"in_review", "In Review"},
	{"disproven", "Disproven"},
	{"gaps", "Information Gaps"},
}

// RenderMarkdown renders a version as a markdown document.
func RenderMarkdown(v *db.Version) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Common Operating Picture Update %d\n\n", v.VersionNumber)
	fmt.Fprintf(&b, "Published %s by %s\n\n", v.PublishedAt.UTC().Format(time.RFC3339), v.PublishedBy)

	for _, sec := range sectionOrder {
		items := itemsInSection(v, sec.key)
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n", sec.title)
		for _, item := range items {
			writeItemMarkdown(&b, item)
		}
	}

	fmt.Fprintf(&b, "---\n\n")
	fmt.Fprintf(&b, "%d items, %d verified, provenance coverage %.0f%%",
		v.Metrics.TotalItems, v.Metrics.VerifiedCount, v.Metrics.ProvenanceCoverage*100)
	if v.Metrics.OverridesExercised > 0 {
		fmt.Fprintf(&b, ", %d override(s) exercised", v.Metrics.OverridesExercised)
	}
	b.WriteString("\n")
	return b.String()
}

func writeItemMarkdown(b *strings.Builder, item db.VersionItem) {
	c := item.Snapshot
	headline := c.Draft.Headline
	if headline == "" {
		headline = c.Fields.What
	}
	fmt.Fprintf(b, "### %s\n\n", headline)
	if c.Draft.Body != "" {
		fmt.Fprintf(b, "%s\n\n", c.Draft.Body)
	}
	if c.Fields.Where != "" {
		fmt.Fprintf(b, "- **Where:** %s\n", c.Fields.Where)
	}
	if when := formatWhen(c.Fields.When); when != "" {
		fmt.Fprintf(b, "- **When:** %s\n", when)
	}
	if c.Fields.SoWhat != "" {
		fmt.Fprintf(b, "- **Impact:** %s\n", c.Fields.SoWhat)
	}
	if n := c.Evidence.Count(); n > 0 {
		fmt.Fprintf(b, "- **Sources:** %d citation(s)\n", n)
	}
	if c.Draft.RecheckAt != nil {
		fmt.Fprintf(b, "- **Recheck by:** %s\n", c.Draft.RecheckAt.UTC().Format(time.RFC3339))
	}
	b.WriteString("\n")
}

// RenderText renders a version as plain text for channels without markdown.
func RenderText(v *db.Version) string {
	var b strings.Builder
	fmt.Fprintf(&b, "COP UPDATE %d (%s)\n\n", v.VersionNumber, v.PublishedAt.UTC().Format("2006-01-02 15:04 MST"))

	for _, sec := range sectionOrder {
		items := itemsInSection(v, sec.key)
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s\n%s\n", strings.ToUpper(sec.title), strings.Repeat("-", len(sec.title)))
		for _, item := range items {
			c := item.Snapshot
			headline := c.Draft.Headline
			if headline == "" {
				headline = c.Fields.What
			}
			fmt.Fprintf(&b, "* %s", headline)
			if c.Fields.Where != "" {
				fmt.Fprintf(&b, " (%s)", c.Fields.Where)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func itemsInSection(v *db.Version, section string) []db.VersionItem {
	var out []db.VersionItem
	for _, item := range v.Items {
		if item.Section == section {
			out = append(out, item)
		}
	}
	return out
}

func formatWhen(w cop.When) string {
	switch {
	case w.Timestamp != nil && w.IsApproximate:
		return "approx. " + w.Timestamp.Format(time.RFC3339)
	case w.Timestamp != nil:
		return w.Timestamp.Format(time.RFC3339)
	default:
		return w.Description
	}
}
