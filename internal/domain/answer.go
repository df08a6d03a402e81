package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Answer es la respuesta canonica del backend, libre de cualquier representacion visual.
// Cada seccion es opcional: ausente significa "no se muestra".
type Answer struct {
	Summary string   `json:"summary,omitempty"`
	Steps   []string `json:"steps,omitempty"`
	Tables  []Table  `json:"tables,omitempty"`
	Links   []Link   `json:"links,omitempty"`
	Schemes []Scheme `json:"schemes,omitempty"`
}

// IsEmpty indica si ninguna seccion tiene contenido.
func (a Answer) IsEmpty() bool {
	return a.Summary == "" && len(a.Steps) == 0 && len(a.Tables) == 0 && len(a.Links) == 0 && len(a.Schemes) == 0
}

type Table struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// Link incluye la miniatura derivada de la URL.
type Link struct {
	URL       string `json:"url"`
	Label     string `json:"label"`
	Thumbnail string `json:"thumbnail"`
}

type Scheme struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Link        string `json:"link,omitempty"`
}

// RawKind etiqueta la forma del payload recibido del backend.
type RawKind int

const (
	RawEmpty RawKind = iota
	RawPlainText
	RawStructured
)

func (k RawKind) String() string {
	switch k {
	case RawPlainText:
		return "plain_text"
	case RawStructured:
		return "structured"
	default:
		return "empty"
	}
}

// RawAnswer es la variante etiquetada {Empty, PlainText, Structured} en la frontera HTTP.
type RawAnswer struct {
	Kind   RawKind
	Text   string
	Fields AnswerFields
}

// PlainTextAnswer construye la variante de texto plano.
func PlainTextAnswer(text string) RawAnswer {
	return RawAnswer{Kind: RawPlainText, Text: text}
}

// StructuredAnswer construye la variante estructurada.
func StructuredAnswer(fields AnswerFields) RawAnswer {
	return RawAnswer{Kind: RawStructured, Fields: fields}
}

// AnswerFields refleja los campos opcionales del JSON del backend.
type AnswerFields struct {
	Answer  *string
	Steps   []string
	Tables  []RawTable
	Links   []RawLink
	Schemes []RawScheme
}

type RawTable struct {
	Headers []string `json:"headers"`
	Rows    [][]Cell `json:"rows"`
}

type RawLink struct {
	URL   string `json:"url"`
	Label string `json:"label"`
}

type RawScheme struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Link        string `json:"link,omitempty"`
}

// Cell acepta cualquier escalar JSON como valor de celda.
type Cell string

func (c *Cell) UnmarshalJSON(data []byte) error {
	// UseNumber conserva el texto original: ids largos no pasan por float64.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	switch t := v.(type) {
	case nil:
		*c = ""
	case string:
		*c = Cell(t)
	case json.Number:
		*c = Cell(t.String())
	case bool:
		*c = Cell(strconv.FormatBool(t))
	default:
		return fmt.Errorf("table cell must be a scalar, got %T", v)
	}
	return nil
}
