package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.html
var templateFS embed.FS

// Page names accepted by Renderer.Render.
const (
	PageCatalog = "catalog"
	PageDetail  = "detail"
	PageCart    = "cart"
	PageError   = "error"
	PartialGrid = "grid"
)

// Layout is the data shared by every full page.
type Layout struct {
	Title       string
	Description string
	Lang        string
	CartCount   int
	CSRFToken   string
	SignedIn    bool
	Email       string
	Collections []string
}

// CatalogPage wraps the listing model.
type CatalogPage struct {
	Layout
	Catalog CatalogView
	LiveURL string
}

// DetailPage wraps the product model.
type DetailPage struct {
	Layout
	Detail     DetailView
	Collection string
}

// CartPage wraps the cart model.
type CartPage struct {
	Layout
	Cart CartView
}

// ErrorPage renders a friendly failure.
type ErrorPage struct {
	Layout
	Status  int
	Message string
}

// Renderer executes the embedded page templates.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer parses the embedded templates once.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"title": Title,
		"join":  strings.Join,
	}
	tmpl, err := template.New("_root").Funcs(funcMap).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("render: parse templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render executes the named page into w. Output is buffered so a template failure
// never leaves a half-written response.
func (r *Renderer) Render(w io.Writer, name string, data any) error {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	_, err := buf.WriteTo(w)
	return err
}

// Title turns a slug such as "pc-builds" into "Pc Builds".
func Title(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "-", " ")
	return cases.Title(language.English).String(s)
}

func itoa(i int) string { return strconv.Itoa(i) }
