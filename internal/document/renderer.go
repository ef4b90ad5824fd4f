package document

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/example/clinical-notify/internal/apperr"
	"github.com/example/clinical-notify/internal/event"
)

// NotProvided marks a row whose value is missing so the layout never shifts.
const NotProvided = "not provided"

const (
	pageWidth   = 210.0
	margin      = 15.0
	labelWidth  = 55.0
	valueWidth  = pageWidth - 2*margin - labelWidth
	lineHeight  = 7.0
	timeLayout  = "2006-01-02 15:04:05 UTC"
	creatorName = "clinical-notify"
	coreFamily  = "Helvetica"
	fontFamily  = "ClinicalSans"
)

type Facility struct {
	Name    string
	Address string
	Phone   string
}

// Font is a TrueType face embedded in every document so names outside
// cp1252, Thai included, print as written. Bold falls back to Regular.
type Font struct {
	Regular []byte
	Bold    []byte
}

type Renderer struct {
	facility    Facility
	layouts     map[event.Kind]Layout
	now         func() time.Time
	compression bool
	font        *Font
}

type Option func(*Renderer)

func WithClock(now func() time.Time) Option {
	return func(r *Renderer) { r.now = now }
}

// WithLayouts replaces the default layout registry.
func WithLayouts(layouts map[event.Kind]Layout) Option {
	return func(r *Renderer) { r.layouts = layouts }
}

// WithCompression toggles stream compression; output is uncompressed when off.
func WithCompression(on bool) Option {
	return func(r *Renderer) { r.compression = on }
}

// WithFont embeds a UTF-8 font instead of the cp1252 core fonts.
func WithFont(f Font) Option {
	return func(r *Renderer) { r.font = &f }
}

// NewRenderer validates the facility, the font and every registered layout.
func NewRenderer(facility Facility, opts ...Option) (*Renderer, error) {
	r := &Renderer{
		facility:    facility,
		layouts:     DefaultLayouts(),
		now:         time.Now,
		compression: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	if strings.TrimSpace(r.facility.Name) == "" {
		return nil, errors.New("document renderer: facility name is required")
	}
	if len(r.layouts) == 0 {
		return nil, errors.New("document renderer: no layouts registered")
	}
	for kind, l := range r.layouts {
		if !kind.Valid() {
			return nil, fmt.Errorf("document renderer: layout for unknown kind %q", kind)
		}
		if l.Title == "" || l.Fields == nil {
			return nil, fmt.Errorf("document renderer: layout %s needs a title and fields", kind)
		}
	}
	if r.font != nil {
		if err := checkFont(*r.font); err != nil {
			return nil, fmt.Errorf("document renderer: %w", err)
		}
	}
	return r, nil
}

// checkFont loads f into a scratch document and measures a string with it.
func checkFont(f Font) (err error) {
	if !isTrueType(f.Regular) {
		return errors.New("regular font is not a TrueType file")
	}
	if f.Bold != nil && !isTrueType(f.Bold) {
		return errors.New("bold font is not a TrueType file")
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("load font: %v", rec)
		}
	}()
	pdf := fpdf.New("P", "mm", "A4", "")
	registerFont(pdf, f)
	pdf.AddPage()
	pdf.SetFont(fontFamily, "", 10)
	w := pdf.GetStringWidth("HN")
	if pdf.Err() {
		return fmt.Errorf("load font: %w", pdf.Error())
	}
	if w <= 0 {
		return errors.New("load font: font has no glyph widths")
	}
	return nil
}

func isTrueType(b []byte) bool {
	if len(b) < 12 {
		return false
	}
	return bytes.Equal(b[:4], []byte{0, 1, 0, 0}) || string(b[:4]) == "true"
}

func registerFont(pdf *fpdf.Fpdf, f Font) {
	bold := f.Bold
	if bold == nil {
		bold = f.Regular
	}
	pdf.AddUTF8FontFromBytes(fontFamily, "", f.Regular)
	pdf.AddUTF8FontFromBytes(fontFamily, "B", bold)
	pdf.AddUTF8FontFromBytes(fontFamily, "I", f.Regular)
}

// Wants reports whether kind produces a document.
func (r *Renderer) Wants(kind event.Kind) bool {
	_, ok := r.layouts[kind]
	return ok
}

// Kinds lists the kinds that produce a document, sorted.
func (r *Renderer) Kinds() []event.Kind {
	out := make([]event.Kind, 0, len(r.layouts))
	for k := range r.layouts {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Render lays out header, patient block, event details and signature block.
// Any failure, including a panic inside a layout, is a RenderFailure.
func (r *Renderer) Render(kind event.Kind, payload event.Payload, patient event.PatientRef, actor event.Actor) (out []byte, err error) {
	l, ok := r.layouts[kind]
	if !ok {
		return nil, apperr.New(apperr.CodeRenderFailure, fmt.Sprintf("no document layout for %s", kind))
	}
	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = apperr.Wrap(apperr.CodeRenderFailure, fmt.Errorf("%v", rec), "render "+string(kind))
		}
	}()

	generated := r.now().UTC()
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(generated)
	pdf.SetModificationDate(generated)
	pdf.SetCatalogSort(true)
	pdf.SetCompression(r.compression)
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(true, margin)
	pdf.SetTitle(l.Title, true)
	pdf.SetAuthor(r.facility.Name, true)
	pdf.SetCreator(creatorName, true)
	pdf.SetProducer(creatorName, true)
	pdf.AliasNbPages("")

	w := &writer{pdf: pdf, family: coreFamily, tr: pdf.UnicodeTranslatorFromDescriptor("")}
	if r.font != nil {
		registerFont(pdf, *r.font)
		w.family = fontFamily
		w.tr = func(s string) string { return s }
	}
	pdf.SetFooterFunc(func() {
		pdf.SetY(-margin)
		pdf.SetFont(w.family, "I", 8)
		pdf.CellFormat(0, 5, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	w.header(r.facility, l.Title, generated)
	w.section("Patient")
	w.row("Hospital number", patient.HospitalNumber)
	w.row("National ID", patient.NationalID)
	w.row("Name", patient.DisplayName)
	w.row("Phone", patient.Phone)
	w.row("E-mail", patient.Email)

	w.section("Details")
	for _, f := range l.Fields(payload) {
		w.row(f.Label, payload.Get(f.Key))
	}

	w.section("Recorded by")
	w.row("Staff", actor.DisplayName)
	w.row("Staff ID", actor.ID)
	w.row("Generated", generated.Format(timeLayout))
	w.signature()

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, apperr.Wrap(apperr.CodeRenderFailure, err, "write pdf for "+string(kind))
	}
	return buf.Bytes(), nil
}

type writer struct {
	pdf    *fpdf.Fpdf
	family string
	tr     func(string) string
}

func (w *writer) header(f Facility, title string, generated time.Time) {
	w.pdf.SetFont(w.family, "B", 16)
	w.pdf.CellFormat(0, 9, w.tr(f.Name), "", 1, "L", false, 0, "")
	w.pdf.SetFont(w.family, "", 9)
	if f.Address != "" {
		w.pdf.CellFormat(0, 5, w.tr(f.Address), "", 1, "L", false, 0, "")
	}
	if f.Phone != "" {
		w.pdf.CellFormat(0, 5, w.tr("Tel. "+f.Phone), "", 1, "L", false, 0, "")
	}
	w.pdf.Ln(3)
	w.pdf.SetFont(w.family, "B", 14)
	w.pdf.CellFormat(0, 8, w.tr(title), "B", 1, "L", false, 0, "")
	w.pdf.SetFont(w.family, "", 9)
	w.pdf.CellFormat(0, 6, "Generated "+generated.Format(timeLayout), "", 1, "R", false, 0, "")
}

func (w *writer) section(title string) {
	w.pdf.Ln(3)
	w.pdf.SetFont(w.family, "B", 11)
	w.pdf.SetFillColor(230, 236, 242)
	w.pdf.CellFormat(0, lineHeight, w.tr(title), "", 1, "L", true, 0, "")
}

func (w *writer) row(label, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		value = NotProvided
	}
	w.pdf.SetFont(w.family, "B", 10)
	w.pdf.CellFormat(labelWidth, lineHeight, w.tr(label), "", 0, "L", false, 0, "")
	w.pdf.SetFont(w.family, "", 10)
	w.pdf.MultiCell(valueWidth, lineHeight, w.tr(value), "", "L", false)
}

func (w *writer) signature() {
	w.pdf.Ln(12)
	w.pdf.SetFont(w.family, "", 10)
	w.pdf.CellFormat(labelWidth, lineHeight, "Signature", "", 0, "L", false, 0, "")
	w.pdf.CellFormat(valueWidth/2, lineHeight, "", "B", 1, "L", false, 0, "")
}
