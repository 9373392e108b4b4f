// Package chart renders analysis sessions to PNG images.
package chart

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/vicanso/go-charts/v2"

	"pnlscope/internal/domain"
)

// Kind selects the chart rendered for a session.
type Kind string

const (
	KindPrice  Kind = "price"  // closing prices against the purchase price
	KindProfit Kind = "profit" // profit percentage per day
)

// ParseKind maps user input to a Kind, defaulting to KindPrice.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "price", "close":
		return KindPrice, nil
	case "profit", "pnl", "percent":
		return KindProfit, nil
	}
	return "", fmt.Errorf("unknown chart kind %q", s)
}

var errNoReturns = errors.New("session has no returns to chart")

const (
	defaultWidth  = 900
	defaultHeight = 500
	cacheTTL      = 10 * time.Minute

	maxCacheEntries = 256
)

type cacheEntry struct {
	createdAt time.Time
	image     []byte
}

// Renderer draws session charts and keeps recently rendered images.
type Renderer struct {
	width, height int

	mu    sync.Mutex
	cache map[string]cacheEntry
	now   func() time.Time
}

// NewRenderer creates a Renderer. Non-positive sizes use 900x500.
func NewRenderer(width, height int) *Renderer {
	if width <= 0 {
		width = defaultWidth
	}
	if height <= 0 {
		height = defaultHeight
	}
	return &Renderer{
		width:  width,
		height: height,
		cache:  make(map[string]cacheEntry),
		now:    time.Now,
	}
}

// Render returns a PNG chart of the session.
func (r *Renderer) Render(sess *domain.Session, kind Kind) ([]byte, error) {
	if sess == nil || len(sess.Returns) == 0 {
		return nil, errNoReturns
	}

	key := cacheKey(sess, kind)
	if img, ok := r.cacheGet(key); ok {
		return img, nil
	}

	var (
		img []byte
		err error
	)
	switch kind {
	case KindProfit:
		img, err = r.renderProfit(sess)
	default:
		img, err = r.renderPrice(sess)
	}
	if err != nil {
		return nil, err
	}
	r.cacheSet(key, img)
	return img, nil
}

func (r *Renderer) renderPrice(sess *domain.Session) ([]byte, error) {
	labels := make([]string, 0, len(sess.Returns)+1)
	closes := make([]float64, 0, len(sess.Returns)+1)
	purchase := make([]float64, 0, len(sess.Returns)+1)

	labels = append(labels, sess.PurchaseDate.Format("Jan 02"))
	closes = append(closes, sess.PurchasePrice)
	purchase = append(purchase, sess.PurchasePrice)

	yMin, yMax := sess.PurchasePrice, sess.PurchasePrice
	for _, dr := range sess.Returns {
		labels = append(labels, dr.AnalysisDate.Format("Jan 02"))
		closes = append(closes, dr.ClosingPrice)
		purchase = append(purchase, sess.PurchasePrice)
		yMin = math.Min(yMin, dr.ClosingPrice)
		yMax = math.Max(yMax, dr.ClosingPrice)
	}
	pad := (yMax - yMin) * 0.1
	if pad < yMax*0.005 {
		pad = yMax * 0.005
	}
	yMin = math.Max(yMin-pad, 0)
	yMax += pad

	title := fmt.Sprintf("%s bought %s", sess.Symbol, sess.PurchaseDate.Format(domain.DateLayout))
	sub := fmt.Sprintf("purchase $%.2f", sess.PurchasePrice)

	p, err := charts.LineRender([][]float64{closes, purchase},
		charts.TitleTextOptionFunc(title, sub),
		charts.XAxisOptionFunc(charts.XAxisOption{Data: labels, BoundaryGap: charts.FalseFlag()}),
		charts.YAxisOptionFunc(charts.YAxisOption{Min: &yMin, Max: &yMax, DivideCount: 5}),
		charts.LegendOptionFunc(charts.LegendOption{
			Data: []string{"Close", "Purchase"},
			Top:  charts.PositionTop,
			Left: charts.PositionRight,
		}),
		charts.PNGTypeOption(),
		charts.ThemeOptionFunc(charts.ThemeLight),
		charts.WidthOptionFunc(r.width),
		charts.HeightOptionFunc(r.height),
	)
	if err != nil {
		return nil, fmt.Errorf("rendering price chart: %w", err)
	}
	return p.Bytes()
}

func (r *Renderer) renderProfit(sess *domain.Session) ([]byte, error) {
	labels := make([]string, 0, len(sess.Returns))
	values := make([]float64, 0, len(sess.Returns))
	for _, dr := range sess.Returns {
		labels = append(labels, dr.AnalysisDate.Format("Jan 02"))
		values = append(values, dr.ProfitPercentage)
	}

	title := fmt.Sprintf("%s profit since %s", sess.Symbol, sess.PurchaseDate.Format(domain.DateLayout))

	p, err := charts.BarRender([][]float64{values},
		charts.TitleTextOptionFunc(title, "% vs purchase close"),
		charts.XAxisOptionFunc(charts.XAxisOption{Data: labels}),
		charts.LegendOptionFunc(charts.LegendOption{
			Data: []string{"Profit %"},
			Top:  charts.PositionTop,
			Left: charts.PositionRight,
		}),
		charts.PNGTypeOption(),
		charts.ThemeOptionFunc(charts.ThemeLight),
		charts.WidthOptionFunc(r.width),
		charts.HeightOptionFunc(r.height),
	)
	if err != nil {
		return nil, fmt.Errorf("rendering profit chart: %w", err)
	}
	return p.Bytes()
}

// cacheKey includes CreatedAt so a newer persisted batch is re-rendered.
func cacheKey(sess *domain.Session, kind Kind) string {
	return fmt.Sprintf("%s|%s|%d|%d|%s", sess.Symbol, sess.PurchaseDate.Format(domain.DateLayout),
		sess.CreatedAt.UnixNano(), len(sess.Returns), kind)
}

func (r *Renderer) cacheGet(key string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[key]
	if !ok {
		return nil, false
	}
	if r.now().After(entry.createdAt.Add(cacheTTL)) {
		delete(r.cache, key)
		return nil, false
	}
	return bytes.Clone(entry.image), true
}

// cacheSet stores a copy of img and drops expired entries. When the cache is
// still full afterwards the oldest entry is evicted.
func (r *Renderer) cacheSet(key string, img []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, e := range r.cache {
		if now.After(e.createdAt.Add(cacheTTL)) {
			delete(r.cache, k)
			continue
		}
		if oldestKey == "" || e.createdAt.Before(oldest) {
			oldestKey, oldest = k, e.createdAt
		}
	}
	if len(r.cache) >= maxCacheEntries && oldestKey != "" {
		delete(r.cache, oldestKey)
	}
	r.cache[key] = cacheEntry{createdAt: now, image: bytes.Clone(img)}
}
