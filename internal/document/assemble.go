package document

import (
	"fmt"
	"strings"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/page"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/phpdave11/gofpdf"
	orchestratordomain "github.com/planforge/planforge/internal/orchestrator/domain"
)

// Meta is the document-level metadata stamped onto the artifact. GeneratedAt
// comes from the generation result, not the wall clock, so assembly stays a
// pure function of its inputs.
type Meta struct {
	Title           string
	PersonalizedFor string
	GeneratedAt     time.Time
}

// Artifact is the rendered deliverable.
type Artifact struct {
	Bytes     []byte
	SizeBytes int
}

// layout is the deterministic intermediate form the PDF is rendered from.
type layout struct {
	coverTitle    string
	coverSubtitle string
	coverDate     string
	generatedAt   time.Time
	toc           []string
	pages         []sectionPage
	closing       []string
}

type sectionPage struct {
	heading string
	lines   []string
}

// Assemble renders the generated sections into a paginated document: cover,
// table of contents, one page (or more) per section, closing page. It fails
// only on programmer error.
func Assemble(sections []orchestratordomain.Section, meta Meta) (*Artifact, error) {
	return renderPDF(buildLayout(sections, meta))
}

func buildLayout(sections []orchestratordomain.Section, meta Meta) layout {
	l := layout{
		coverTitle:  meta.Title,
		coverDate:   meta.GeneratedAt.UTC().Format("January 2, 2006"),
		generatedAt: meta.GeneratedAt.UTC(),
		closing: []string{
			"Questions about your deliverable? Write to support@planforge.io.",
			"Templates and worked examples: https://planforge.io/resources",
			"Book a working session: https://planforge.io/sessions",
		},
	}
	if meta.PersonalizedFor != "" {
		l.coverSubtitle = "Prepared for " + meta.PersonalizedFor
	}

	for _, s := range sections {
		l.toc = append(l.toc, s.Title)
		l.pages = append(l.pages, sectionPage{
			heading: s.Title,
			lines:   formatBody(s.Content),
		})
	}
	return l
}

// sectionTitles reads the ordered titles back out of the table of contents.
func (l layout) sectionTitles() []string {
	titles := make([]string, len(l.toc))
	copy(titles, l.toc)
	return titles
}

// formatBody splits content into renderable lines, substituting the inline
// emphasis markers. This is a plain text substitution, not a markup parser.
func formatBody(content string) []string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		lines = append(lines, stripEmphasis(strings.TrimRight(line, " \t")))
	}
	// Trim trailing blanks.
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func stripEmphasis(line string) string {
	line = strings.ReplaceAll(line, "**", "")
	line = strings.ReplaceAll(line, "__", "")
	line = strings.ReplaceAll(line, "*", "")
	line = strings.ReplaceAll(line, "`", "'")
	return line
}

func renderPDF(l layout) (*Artifact, error) {
	// The PDF dates are pinned to the generation time so identical inputs
	// render to identical bytes. The modification date has no builder
	// option and is pinned through the gofpdf package default.
	gofpdf.SetDefaultModificationDate(l.generatedAt)
	// Resource catalogs are map-backed in gofpdf; sorting them is the other
	// half of reproducible output (see gofpdf's SetCatalogSort docs).
	gofpdf.SetDefaultCatalogSort(true)

	cfg := config.NewBuilder().
		WithCreationDate(l.generatedAt).
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	cover := page.New()
	cover.Add(
		row.New(80).Add(col.New(12)),
		text.NewRow(20, l.coverTitle, props.Text{
			Size:  24,
			Style: fontstyle.Bold,
			Align: align.Center,
		}),
		text.NewRow(10, l.coverSubtitle, props.Text{
			Size:  13,
			Align: align.Center,
		}),
		text.NewRow(8, l.coverDate, props.Text{
			Size:  10,
			Align: align.Center,
		}),
	)
	m.AddPages(cover)

	toc := page.New()
	toc.Add(text.NewRow(14, "Contents", props.Text{
		Size:  16,
		Style: fontstyle.Bold,
	}))
	for i, title := range l.toc {
		toc.Add(text.NewRow(8, fmt.Sprintf("%d. %s", i+1, title), props.Text{
			Size: 11,
			Top:  2,
		}))
	}
	m.AddPages(toc)

	for _, section := range l.pages {
		p := page.New()
		p.Add(text.NewRow(14, section.heading, props.Text{
			Size:  15,
			Style: fontstyle.Bold,
		}))
		for _, line := range section.lines {
			if line == "" {
				p.Add(row.New(3).Add(col.New(12)))
				continue
			}
			p.Add(text.NewRow(6, line, props.Text{Size: 10}))
		}
		m.AddPages(p)
	}

	closing := page.New()
	closing.Add(text.NewRow(14, "Next Steps & Resources", props.Text{
		Size:  15,
		Style: fontstyle.Bold,
	}))
	for _, line := range l.closing {
		closing.Add(text.NewRow(8, line, props.Text{Size: 10, Top: 2}))
	}
	m.AddPages(closing)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	bytes := doc.GetBytes()
	return &Artifact{Bytes: bytes, SizeBytes: len(bytes)}, nil
}
