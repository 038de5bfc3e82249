package theme

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/lucasb-eyer/go-colorful"
)

// DefaultName is the palette used when none is configured.
const DefaultName = "prospect-light"

// Token is a semantic color slot.
type Token string

const (
	ColorTextPrimary Token = "text.primary"
	ColorTextMuted   Token = "text.muted"
	ColorBorder      Token = "border"
	ColorPrimary     Token = "primary"
	ColorPrimaryText Token = "primary.text"
	ColorAccent      Token = "accent"
	ColorSuccess     Token = "success"
	ColorWarning     Token = "warning"
	ColorDanger      Token = "danger"
	ColorHighlight   Token = "highlight"
)

// Color stores light and dark variants for adaptive rendering.
type Color struct {
	Light string
	Dark  string
}

func (c Color) Adaptive() lipgloss.AdaptiveColor {
	light, dark := strings.TrimSpace(c.Light), strings.TrimSpace(c.Dark)
	if light == "" {
		light = dark
	}
	if dark == "" {
		dark = light
	}
	return lipgloss.AdaptiveColor{Light: light, Dark: dark}
}

type Palette struct {
	Name        string
	DisplayName string
	Colors      map[Token]Color
}

// Color returns the color for token, falling back to the default palette.
func (p Palette) Color(token Token) Color {
	if c, ok := p.Colors[token]; ok {
		return c
	}
	ensureRegistry()
	if c, ok := palettes[DefaultName].Colors[token]; ok {
		return c
	}
	return Color{Light: "#000000", Dark: "#FFFFFF"}
}

func (p Palette) Adaptive(token Token) lipgloss.AdaptiveColor {
	return p.Color(token).Adaptive()
}

// ForegroundStyle returns a style with the foreground set to token.
func (p Palette) ForegroundStyle(token Token) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(p.Adaptive(token))
}

// BadgeStyle returns a style painting token as background with a readable
// foreground picked by luminance.
func (p Palette) BadgeStyle(token Token) lipgloss.Style {
	c := p.Color(token)
	return lipgloss.NewStyle().
		Background(c.Adaptive()).
		Foreground(lipgloss.AdaptiveColor{Light: contrastColor(c.Light), Dark: contrastColor(c.Dark)}).
		Padding(0, 1)
}

type contextKey struct{}

var (
	registryOnce sync.Once
	registryMu   sync.RWMutex
	palettes     map[string]Palette
	current      Palette
)

func ContextWithPalette(ctx context.Context, p Palette) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the palette stored on ctx or the current palette.
func FromContext(ctx context.Context) Palette {
	if ctx != nil {
		if p, ok := ctx.Value(contextKey{}).(Palette); ok {
			return p
		}
	}
	return Current()
}

// Available returns the registered palette names, sorted.
func Available() []string {
	ensureRegistry()
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(palettes))
	for name := range palettes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func Get(name string) (Palette, bool) {
	ensureRegistry()
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := palettes[sanitizeName(name)]
	return p, ok
}

// SetCurrent makes name the active palette. An empty name selects the default.
func SetCurrent(name string) error {
	ensureRegistry()
	name = sanitizeName(name)
	if name == "" {
		name = DefaultName
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	p, ok := palettes[name]
	if !ok {
		return fmt.Errorf("unknown color theme %q (available: %s)", name, strings.Join(sortedKeys(), ", "))
	}
	current = p
	return nil
}

func Current() Palette {
	ensureRegistry()
	registryMu.RLock()
	defer registryMu.RUnlock()
	return current
}

func ensureRegistry() {
	registryOnce.Do(func() {
		registryMu.Lock()
		defer registryMu.Unlock()

		palettes = map[string]Palette{}
		for _, p := range []Palette{lightPalette(), darkPalette(), fromAccent("prospect-ocean", "Ocean", "#0E7490")} {
			palettes[p.Name] = p
		}
		current = palettes[DefaultName]
	})
}

func sortedKeys() []string {
	keys := make([]string, 0, len(palettes))
	for k := range palettes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sanitizeName(name string) string {
	return strings.TrimSpace(strings.ToLower(name))
}

// fromAccent derives a full palette from one brand color.
func fromAccent(name, display, accent string) Palette {
	return Palette{
		Name:        name,
		DisplayName: display,
		Colors: map[Token]Color{
			ColorTextPrimary: {Light: "#111827", Dark: "#F3F4F6"},
			ColorTextMuted:   {Light: darkenHex(accent, 0.2), Dark: lightenHex(accent, 0.45)},
			ColorBorder:      {Light: lightenHex(accent, 0.6), Dark: darkenHex(accent, 0.4)},
			ColorPrimary:     {Light: accent, Dark: lightenHex(accent, 0.2)},
			ColorPrimaryText: {Light: contrastColor(accent), Dark: contrastColor(lightenHex(accent, 0.2))},
			ColorAccent:      {Light: darkenHex(accent, 0.15), Dark: lightenHex(accent, 0.35)},
			ColorSuccess:     {Light: "#15803D", Dark: "#4ADE80"},
			ColorWarning:     {Light: "#B45309", Dark: "#FBBF24"},
			ColorDanger:      {Light: "#B91C1C", Dark: "#F87171"},
			ColorHighlight:   {Light: lightenHex(accent, 0.85), Dark: darkenHex(accent, 0.7)},
		},
	}
}

func lightPalette() Palette {
	return Palette{
		Name:        DefaultName,
		DisplayName: "Prospect Light",
		Colors: map[Token]Color{
			ColorTextPrimary: {Light: "#0F172A", Dark: "#0F172A"},
			ColorTextMuted:   {Light: "#64748B", Dark: "#64748B"},
			ColorBorder:      {Light: "#CBD5E1", Dark: "#CBD5E1"},
			ColorPrimary:     {Light: "#4F46E5", Dark: "#4F46E5"},
			ColorPrimaryText: {Light: "#FFFFFF", Dark: "#FFFFFF"},
			ColorAccent:      {Light: "#7C3AED", Dark: "#7C3AED"},
			ColorSuccess:     {Light: "#15803D", Dark: "#15803D"},
			ColorWarning:     {Light: "#B45309", Dark: "#B45309"},
			ColorDanger:      {Light: "#B91C1C", Dark: "#B91C1C"},
			ColorHighlight:   {Light: "#EEF2FF", Dark: "#EEF2FF"},
		},
	}
}

func darkPalette() Palette {
	return Palette{
		Name:        "prospect-dark",
		DisplayName: "Prospect Dark",
		Colors: map[Token]Color{
			ColorTextPrimary: {Light: "#F8FAFC", Dark: "#F8FAFC"},
			ColorTextMuted:   {Light: "#94A3B8", Dark: "#94A3B8"},
			ColorBorder:      {Light: "#334155", Dark: "#334155"},
			ColorPrimary:     {Light: "#818CF8", Dark: "#818CF8"},
			ColorPrimaryText: {Light: "#0F172A", Dark: "#0F172A"},
			ColorAccent:      {Light: "#C4B5FD", Dark: "#C4B5FD"},
			ColorSuccess:     {Light: "#4ADE80", Dark: "#4ADE80"},
			ColorWarning:     {Light: "#FBBF24", Dark: "#FBBF24"},
			ColorDanger:      {Light: "#F87171", Dark: "#F87171"},
			ColorHighlight:   {Light: "#1E1B4B", Dark: "#1E1B4B"},
		},
	}
}

func contrastColor(hex string) string {
	c, err := colorful.Hex(hex)
	if err != nil {
		return "#111827"
	}
	r, g, b := c.LinearRgb()
	if 0.2126*r+0.7152*g+0.0722*b > 0.5 {
		return "#111827"
	}
	return "#F9FAFB"
}

func lightenHex(hex string, amount float64) string {
	return blend(hex, colorful.Color{R: 1, G: 1, B: 1}, amount)
}

func darkenHex(hex string, amount float64) string {
	return blend(hex, colorful.Color{}, amount)
}

func blend(hex string, with colorful.Color, amount float64) string {
	c, err := colorful.Hex(hex)
	if err != nil {
		return hex
	}
	amount = min(max(amount, 0), 1)
	return c.BlendLab(with, amount).Clamped().Hex()
}
