// Package chart renders spending breakdowns to PNG files served from the images dir.
package chart

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/EXCurryBar/mybot/internal/models"

	"github.com/golang/freetype/truetype"
	"github.com/google/uuid"
	gochart "github.com/wcharczuk/go-chart/v2"
)

const (
	defaultSize = 800

	// PieTitle is the title drawn on expense breakdowns.
	PieTitle = "支出分類佔比"

	// URLPrefix is the public path rendered files are served under.
	URLPrefix = "/images/"
)

// Result is delivered once per render. Name is the file name inside the
// renderer dir, suitable for building a public URL.
type Result struct {
	Path string
	Name string
	Err  error
}

type Renderer struct {
	dir  string
	font *truetype.Font
}

// NewRenderer creates dir if needed. fontPath is optional; labels outside the
// default font's range (CJK item names) need one.
func NewRenderer(dir, fontPath string) (*Renderer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create chart dir: %w", err)
	}
	r := &Renderer{dir: dir}
	if fontPath != "" {
		raw, err := os.ReadFile(fontPath)
		if err != nil {
			return nil, fmt.Errorf("read chart font: %w", err)
		}
		font, err := truetype.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse chart font: %w", err)
		}
		r.font = font
	}
	return r, nil
}

// Dir is where rendered files are written.
func (r *Renderer) Dir() string {
	return r.dir
}

// RenderPie draws a pie of totals in the background. The returned channel
// yields exactly one Result and is then closed.
func (r *Renderer) RenderPie(ctx context.Context, owner string, totals []models.CategoryTotal) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		res := r.renderPie(owner, totals)
		if res.Err == nil && ctx.Err() != nil {
			// nobody is waiting for this file any more
			_ = os.Remove(res.Path)
			res = Result{Err: ctx.Err()}
		}
		out <- res
	}()
	return out
}

func (r *Renderer) renderPie(owner string, totals []models.CategoryTotal) Result {
	values := make([]gochart.Value, 0, len(totals))
	for _, t := range totals {
		if t.Amount <= 0 {
			continue
		}
		values = append(values, gochart.Value{Label: t.Item, Value: t.Amount})
	}
	if len(values) == 0 {
		return Result{Err: errors.New("render pie: no positive values")}
	}

	pie := gochart.PieChart{
		Title:  PieTitle,
		Width:  defaultSize,
		Height: defaultSize,
		Values: values,
	}
	if r.font != nil {
		pie.Font = r.font
	}

	name := fmt.Sprintf("%s-%s.png", sanitize(owner), uuid.NewString())
	final := filepath.Join(r.dir, name)
	tmp, err := os.CreateTemp(r.dir, ".render-*.png")
	if err != nil {
		return Result{Err: fmt.Errorf("render pie: %w", err)}
	}
	if err := pie.Render(gochart.PNG, tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return Result{Err: fmt.Errorf("render pie: %w", err)}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return Result{Err: fmt.Errorf("render pie: %w", err)}
	}
	// readers only ever see complete files
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return Result{Err: fmt.Errorf("render pie: %w", err)}
	}
	return Result{Path: final, Name: name}
}

func sanitize(owner string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return -1
		}
	}, owner)
	if clean == "" {
		return "chart"
	}
	return clean
}
