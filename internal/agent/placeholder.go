package agent

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"math"

	"github.com/ashureev/ecoplan/internal/domain"
)

// PlaceholderRenderer draws a schematic SVG from the design context. It
// needs no external service and is used when no image agent is configured.
type PlaceholderRenderer struct{}

// Name implements Renderer.
func (PlaceholderRenderer) Name() string { return "placeholder" }

// Render implements Renderer.
func (PlaceholderRenderer) Render(ctx context.Context, req RenderRequest) (*RenderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d := req.Design
	if d == nil || d.Plot.Width <= 0 || d.Plot.Depth <= 0 {
		return nil, fmt.Errorf("placeholder %s: design has no plot", req.View)
	}

	var buf bytes.Buffer
	if req.View == ViewBlueprint {
		drawPlan(&buf, d, StyleFor(req.Style))
	} else {
		drawMassing(&buf, d, req.View)
	}
	return &RenderResult{Image: Image{Data: buf.Bytes(), MIMEType: "image/svg+xml"}}, nil
}

const (
	pxPerFoot = 10.0
	margin    = 40.0
)

// cells places the nine vastu directions on a 3x3 grid, north up.
var cells = map[string][2]int{
	"northwest": {0, 0}, "north": {1, 0}, "northeast": {2, 0},
	"west": {0, 1}, "center": {1, 1}, "east": {2, 1},
	"southwest": {0, 2}, "south": {1, 2}, "southeast": {2, 2},
}

func esc(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func drawPlan(buf *bytes.Buffer, d *domain.DesignContext, s Style) {
	bg, line, accent := "#ffffff", "#111111", "#c62828"
	switch s.Name {
	case Styles["blueprint"].Name:
		bg, line, accent = "#003366", "#e0f7ff", "#7fd3ff"
	case Styles["sketch"].Name:
		bg, line, accent = "#f8f1e3", "#444444", "#8b5a2b"
	}

	w, h := d.Plot.Width*pxPerFoot, d.Plot.Depth*pxPerFoot
	fmt.Fprintf(buf, `<svg xmlns="http://www.w3.org/2000/svg" width="%.0f" height="%.0f" viewBox="0 0 %.0f %.0f">`,
		w+2*margin, h+2*margin+40, w+2*margin, h+2*margin+40)
	fmt.Fprintf(buf, `<rect width="100%%" height="100%%" fill="%s"/>`, bg)
	fmt.Fprintf(buf, `<rect x="%.0f" y="%.0f" width="%.0f" height="%.0f" fill="none" stroke="%s" stroke-width="4"/>`,
		margin, margin, w, h, line)

	byCell := map[[2]int][]domain.Room{}
	var upper []domain.Room
	for _, r := range d.Rooms {
		if r.Floor > 0 {
			upper = append(upper, r)
			continue
		}
		c, ok := cells[r.VastuDirection]
		if !ok {
			c = cells["center"]
		}
		byCell[c] = append(byCell[c], r)
	}

	cw, ch := w/3, h/3
	for i := range 9 {
		c := [2]int{i % 3, i / 3}
		rooms := byCell[c]
		total := 0.0
		for _, r := range rooms {
			total += math.Max(r.Area, 1)
		}
		y := margin + float64(c[1])*ch
		x := margin + float64(c[0])*cw
		for _, r := range rooms {
			rh := ch * math.Max(r.Area, 1) / total
			fmt.Fprintf(buf, `<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" fill="none" stroke="%s" stroke-width="2"/>`,
				x, y, cw, rh, line)
			fmt.Fprintf(buf, `<text x="%.1f" y="%.1f" font-family="monospace" font-size="11" fill="%s" text-anchor="middle">%s</text>`,
				x+cw/2, y+rh/2, line, esc(r.Name))
			fmt.Fprintf(buf, `<text x="%.1f" y="%.1f" font-family="monospace" font-size="9" fill="%s" text-anchor="middle">%.0f sq.ft</text>`,
				x+cw/2, y+rh/2+12, accent, r.Area)
			y += rh
		}
	}

	fmt.Fprintf(buf, `<text x="%.0f" y="%.0f" font-family="monospace" font-size="12" fill="%s">%s' x %s' plot, road %s</text>`,
		margin, h+margin+20, accent, trimFloat(d.Plot.Width), trimFloat(d.Plot.Depth), esc(d.RoadSide))
	if len(upper) > 0 {
		fmt.Fprintf(buf, `<text x="%.0f" y="%.0f" font-family="monospace" font-size="11" fill="%s">Upper floors: %d rooms</text>`,
			margin, h+margin+36, line, len(upper))
	}
	fmt.Fprintf(buf, `<text x="%.0f" y="%.0f" font-family="monospace" font-size="14" fill="%s" text-anchor="middle">N</text>`,
		w+margin+20, margin, accent)
	buf.WriteString(`</svg>`)
}

func drawMassing(buf *bytes.Buffer, d *domain.DesignContext, view View) {
	const cos30, sin30 = 0.866, 0.5
	w, dp := d.Plot.Width*pxPerFoot*0.6, d.Plot.Depth*pxPerFoot*0.6
	hgt := float64(max(d.Floors, 1)) * 10 * pxPerFoot * 0.6

	ox, oy := margin+dp*cos30, margin+hgt
	pt := func(x, y, z float64) string {
		return fmt.Sprintf("%.1f,%.1f", ox+(x-y)*cos30, oy+(x+y)*sin30-z)
	}
	width := (w+dp)*cos30 + 2*margin
	height := (w+dp)*sin30 + hgt + 2*margin + 30

	fmt.Fprintf(buf, `<svg xmlns="http://www.w3.org/2000/svg" width="%.0f" height="%.0f">`, width, height)
	buf.WriteString(`<rect width="100%" height="100%" fill="#f4f1ea"/>`)
	faces := []struct{ pts, fill string }{
		{pt(0, 0, hgt) + " " + pt(w, 0, hgt) + " " + pt(w, dp, hgt) + " " + pt(0, dp, hgt), "#d7c4a3"},
		{pt(0, dp, 0) + " " + pt(w, dp, 0) + " " + pt(w, dp, hgt) + " " + pt(0, dp, hgt), "#b5651d"},
		{pt(w, 0, 0) + " " + pt(w, dp, 0) + " " + pt(w, dp, hgt) + " " + pt(w, 0, hgt), "#a0522d"},
	}
	for _, f := range faces {
		fmt.Fprintf(buf, `<polygon points="%s" fill="%s" stroke="#333" stroke-width="1.5"/>`, f.pts, f.fill)
	}
	fmt.Fprintf(buf, `<text x="%.0f" y="%.0f" font-family="monospace" font-size="12" fill="#333">%s view, %d floor(s)</text>`,
		margin, height-12, esc(string(view)), max(d.Floors, 1))
	buf.WriteString(`</svg>`)
}
