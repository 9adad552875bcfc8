package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/url"
	"time"

	"github.com/lomito/escalation-service/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

// MaxPhotos is the number of case photos embedded in an email.
const MaxPhotos = 5

var categoryLabels = map[string]string{
	"abuse":   "Maltrato",
	"stray":   "Animal callejero",
	"missing": "Mascota extraviada",
}

var animalTypeLabels = map[string]string{
	"dog":   "Perro",
	"cat":   "Gato",
	"bird":  "Ave",
	"other": "Otro",
}

var urgencyLabels = map[string]string{
	"low":      "Baja",
	"medium":   "Media",
	"high":     "Alta",
	"critical": "Crítica",
}

var urgencyColors = map[string]string{
	"low":      "#718096",
	"medium":   "#DD6B20",
	"high":     "#C53030",
	"critical": "#9B2C2C",
}

var spanishMonths = [...]string{
	"enero", "febrero", "marzo", "abril", "mayo", "junio",
	"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
}

// label maps an internal enum value to its display label; unknown values pass through.
func label(table map[string]string, v string) string {
	if l, ok := table[v]; ok {
		return l
	}
	return v
}

// CategoryLabel is exported for subject lines built outside the templates.
func CategoryLabel(v string) string { return label(categoryLabels, v) }

// FormatSpanishDate renders t like "16 de octubre de 2026, 14:05".
func FormatSpanishDate(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return fmt.Sprintf("%d de %s de %d, %02d:%02d", t.Day(), spanishMonths[t.Month()-1], t.Year(), t.Hour(), t.Minute())
}

type photoView struct {
	URL     string
	Preview string
}

type reminderView struct {
	Number int
	Days   int
	Final  bool
	Color  template.CSS
	Tint   template.CSS
}

type emailView struct {
	Folio        string
	Category     string
	AnimalType   string
	Urgency      string
	UrgencyColor template.CSS
	DateLabel    string
	Date         string
	Jurisdiction string
	Description  string
	Latitude     string
	Longitude    string
	MapURL       string
	Photos       []photoView
	Reminder     *reminderView
	BrandColor   template.CSS
	AccentColor  template.CSS
	FooterNote   string
	SiteURL      string
	SiteHost     string
}

// Renderer builds the escalation and reminder emails. Output depends only on its inputs.
type Renderer struct {
	tmpl    *template.Template
	loc     *time.Location
	siteURL string
}

func NewRenderer(loc *time.Location, siteURL string) (*Renderer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse email templates: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Renderer{tmpl: tmpl, loc: loc, siteURL: siteURL}, nil
}

func (r *Renderer) baseView(c *model.Case, j *model.Jurisdiction, media []model.CaseMedia) emailView {
	if len(media) > MaxPhotos {
		media = media[:MaxPhotos]
	}
	photos := make([]photoView, 0, len(media))
	for _, m := range media {
		photos = append(photos, photoView{URL: m.URL, Preview: m.Preview()})
	}
	color, ok := urgencyColors[c.Urgency]
	if !ok {
		color = "#718096"
	}
	siteHost := r.siteURL
	if u, err := url.Parse(r.siteURL); err == nil && u.Host != "" {
		siteHost = u.Host
	}
	jurisdiction := ""
	if j != nil {
		jurisdiction = j.Name
	}
	return emailView{
		Folio:        c.FolioOrDefault(),
		Category:     label(categoryLabels, c.Category),
		AnimalType:   label(animalTypeLabels, c.AnimalType),
		Urgency:      label(urgencyLabels, c.Urgency),
		UrgencyColor: template.CSS(color),
		Jurisdiction: jurisdiction,
		Description:  c.Description,
		Latitude:     fmt.Sprintf("%.6f", c.Latitude),
		Longitude:    fmt.Sprintf("%.6f", c.Longitude),
		MapURL:       MapURL(c.Latitude, c.Longitude),
		Photos:       photos,
		SiteURL:      r.siteURL,
		SiteHost:     siteHost,
	}
}

// MapURL links the case coordinates on Google Maps.
func MapURL(lat, lng float64) string {
	return fmt.Sprintf("https://www.google.com/maps?q=%v,%v", lat, lng)
}

// RenderEscalation returns the subject and HTML body of the initial escalation email.
func (r *Renderer) RenderEscalation(c *model.Case, j *model.Jurisdiction, media []model.CaseMedia) (string, string, error) {
	v := r.baseView(c, j, media)
	v.DateLabel = "Fecha"
	v.Date = FormatSpanishDate(c.CreatedAt, r.loc)
	v.BrandColor = "#D4662B"
	v.AccentColor = "#1A6B54"
	v.FooterNote = "Este reporte fue escalado automáticamente desde la plataforma Lomito."

	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "escalation", v); err != nil {
		return "", "", fmt.Errorf("render escalation email: %w", err)
	}
	subject := fmt.Sprintf("[Lomito] Reporte de %s - %s - Folio %s", v.Category, v.Jurisdiction, v.Folio)
	return subject, buf.String(), nil
}

// RenderReminder returns the subject and HTML body of reminder number n, sent days after escalation.
func (r *Renderer) RenderReminder(c *model.Case, j *model.Jurisdiction, media []model.CaseMedia, days, n int) (string, string, error) {
	v := r.baseView(c, j, media)
	v.DateLabel = "Fecha de escalación"
	if c.EscalatedAt != nil {
		v.Date = FormatSpanishDate(*c.EscalatedAt, r.loc)
	}
	v.BrandColor = "#13ECC8"
	v.AccentColor = "#1E293B"
	v.FooterNote = "Este es un recordatorio automático del sistema Lomito."

	final := n >= model.MaxReminders
	color := "#DD6B20"
	if final {
		color = "#C53030"
	}
	v.Reminder = &reminderView{
		Number: n,
		Days:   days,
		Final:  final,
		Color:  template.CSS(color),
		Tint:   template.CSS(color + "15"),
	}

	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "reminder", v); err != nil {
		return "", "", fmt.Errorf("render reminder email: %w", err)
	}
	subject := fmt.Sprintf("[Lomito] Recordatorio %d: %s - %s - Folio %s", n, v.Category, v.Jurisdiction, v.Folio)
	return subject, buf.String(), nil
}
