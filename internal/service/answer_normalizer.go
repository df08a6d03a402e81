package service

import (
	"net/url"
	"regexp"
	"strings"

	"sarkari-sahayak/internal/domain"
)

var youtubeIDPattern = regexp.MustCompile(`(?:youtube\.com/(?:watch\?(?:.*&)?v=|shorts/|embed/)|youtu\.be/)([\w-]+)`)

// AnswerNormalizer convierte la variante cruda del backend en una respuesta canonica.
// Es puro: nunca falla; las entradas que no se pueden interpretar se omiten.
type AnswerNormalizer struct{}

func NewAnswerNormalizer() AnswerNormalizer {
	return AnswerNormalizer{}
}

func (AnswerNormalizer) Normalize(raw domain.RawAnswer) domain.Answer {
	switch raw.Kind {
	case domain.RawPlainText:
		return domain.Answer{Summary: raw.Text}
	case domain.RawStructured:
		return normalizeFields(raw.Fields)
	default:
		return domain.Answer{}
	}
}

func normalizeFields(f domain.AnswerFields) domain.Answer {
	var out domain.Answer
	if f.Answer != nil {
		out.Summary = *f.Answer
	}
	if len(f.Steps) > 0 {
		out.Steps = append([]string(nil), f.Steps...)
	}

	for _, t := range f.Tables {
		if t.Headers == nil || t.Rows == nil {
			continue
		}
		rows := make([][]string, 0, len(t.Rows))
		for _, r := range t.Rows {
			row := make([]string, len(r))
			for i, c := range r {
				row[i] = string(c)
			}
			rows = append(rows, row)
		}
		out.Tables = append(out.Tables, domain.Table{
			Headers: append([]string(nil), t.Headers...),
			Rows:    rows,
		})
	}

	for _, l := range f.Links {
		thumb, ok := LinkThumbnail(l.URL)
		if !ok {
			continue
		}
		out.Links = append(out.Links, domain.Link{URL: l.URL, Label: l.Label, Thumbnail: thumb})
	}

	for _, s := range f.Schemes {
		out.Schemes = append(out.Schemes, domain.Scheme{Name: s.Name, Description: s.Description, Link: s.Link})
	}
	return out
}

// LinkThumbnail devuelve la miniatura de YouTube si la URL es un video, o el favicon del host.
// ok es false si la URL no tiene host.
func LinkThumbnail(rawURL string) (string, bool) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", false
	}
	if m := youtubeIDPattern.FindStringSubmatch(rawURL); m != nil {
		return "https://img.youtube.com/vi/" + m[1] + "/mqdefault.jpg", true
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "", false
	}
	return "https://www.google.com/s2/favicons?domain=" + u.Hostname(), true
}
