// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package ops

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/tomtom215/lumen/internal/models"
)

// field binds a parameter name to one OperationSet member.
type field struct {
	name    string
	content bool
	parse   func(s *OperationSet, raw string) error
	inherit func(s *OperationSet)
	merge   func(dst, over, under *OperationSet)
	settle  func(s *OperationSet)
	encode  func(s *OperationSet) (string, State)
}

func bind[T any](name string, content bool, at func(*OperationSet) *Value[T], parse func(string) (T, error), format func(T) string) field {
	return field{
		name:    name,
		content: content,
		parse: func(s *OperationSet, raw string) error {
			v, err := parse(strings.TrimSpace(raw))
			if err != nil {
				return models.InvalidParameter(name, "invalid %s %q: %v", name, raw, err)
			}
			*at(s) = Of(v)
			return nil
		},
		inherit: func(s *OperationSet) { *at(s) = Inherited[T]() },
		merge:   func(dst, over, under *OperationSet) { *at(dst) = Merge(*at(over), *at(under)) },
		settle:  func(s *OperationSet) { *at(s) = at(s).settle() },
		encode: func(s *OperationSet) (string, State) {
			v := *at(s)
			if v.state != Set {
				return "", v.state
			}
			return format(v.v), Set
		},
	}
}

// fields is in canonical order; cache keys depend on it, so new options
// are appended, never inserted.
var fields = []field{
	bind("page", true, func(s *OperationSet) *Value[int] { return &s.Page }, intIn(1, 99999), strconv.Itoa),
	bind("format", true, func(s *OperationSet) *Value[Format] { return &s.Format }, parseFormat, formatString[Format]),
	bind("quality", true, func(s *OperationSet) *Value[int] { return &s.Quality }, intIn(1, 100), strconv.Itoa),
	bind("width", true, func(s *OperationSet) *Value[int] { return &s.Width }, intIn(0, 1<<20), strconv.Itoa),
	bind("height", true, func(s *OperationSet) *Value[int] { return &s.Height }, intIn(0, 1<<20), strconv.Itoa),
	bind("autosizefit", true, func(s *OperationSet) *Value[bool] { return &s.AutoSizeFit }, parseBool, strconv.FormatBool),
	bind("top", true, func(s *OperationSet) *Value[float64] { return &s.Top }, unitInterval, formatFloat),
	bind("left", true, func(s *OperationSet) *Value[float64] { return &s.Left }, unitInterval, formatFloat),
	bind("bottom", true, func(s *OperationSet) *Value[float64] { return &s.Bottom }, unitInterval, formatFloat),
	bind("right", true, func(s *OperationSet) *Value[float64] { return &s.Right }, unitInterval, formatFloat),
	bind("autocropfit", true, func(s *OperationSet) *Value[bool] { return &s.AutoCropFit }, parseBool, strconv.FormatBool),
	bind("fill", true, func(s *OperationSet) *Value[Color] { return &s.Fill }, ParseColor, Color.String),
	bind("flip", true, func(s *OperationSet) *Value[FlipAxis] { return &s.Flip }, parseFlip, formatString[FlipAxis]),
	bind("angle", true, func(s *OperationSet) *Value[int] { return &s.Angle }, parseAngle, strconv.Itoa),
	bind("overlay", true, func(s *OperationSet) *Value[string] { return &s.Overlay }, parseRelPath, identity),
	bind("ovsize", true, func(s *OperationSet) *Value[float64] { return &s.OverlaySize }, unitInterval, formatFloat),
	bind("ovpos", true, func(s *OperationSet) *Value[Position] { return &s.OverlayPos }, enum(positions), formatString[Position]),
	bind("ovopacity", true, func(s *OperationSet) *Value[float64] { return &s.OverlayOpacity }, unitInterval, formatFloat),
	bind("icc", true, func(s *OperationSet) *Value[string] { return &s.ICC }, parseProfileName, identity),
	bind("intent", true, func(s *OperationSet) *Value[Intent] { return &s.Intent }, enum(intents), formatString[Intent]),
	bind("bpc", true, func(s *OperationSet) *Value[bool] { return &s.BPC }, parseBool, strconv.FormatBool),
	bind("colorspace", true, func(s *OperationSet) *Value[Colorspace] { return &s.Colorspace }, enum(colorspaces), formatString[Colorspace]),
	bind("tile", true, func(s *OperationSet) *Value[Tile] { return &s.Tile }, parseTile, Tile.String),
	bind("strip", true, func(s *OperationSet) *Value[bool] { return &s.Strip }, parseBool, strconv.FormatBool),
	bind("dpi", true, func(s *OperationSet) *Value[int] { return &s.DPI }, intIn(0, 1<<16), strconv.Itoa),
	bind("stats", false, func(s *OperationSet) *Value[bool] { return &s.Stats }, parseBool, strconv.FormatBool),
	bind("attach", false, func(s *OperationSet) *Value[bool] { return &s.Attach }, parseBool, strconv.FormatBool),
	bind("expires", false, func(s *OperationSet) *Value[int] { return &s.Expires }, intIn(0, 10*365*24*3600), strconv.Itoa),
}

var fieldsByName = func() map[string]*field {
	m := make(map[string]*field, len(fields))
	for i := range fields {
		m[fields[i].name] = &fields[i]
	}
	return m
}()

// OptionNames returns every accepted option name in canonical order.
func OptionNames() []string {
	out := make([]string, len(fields))
	for i := range fields {
		out[i] = fields[i].name
	}
	return out
}

var (
	intents = map[string]Intent{
		"perceptual": IntentPerceptual, "relative": IntentRelative,
		"saturation": IntentSaturation, "absolute": IntentAbsolute,
	}
	colorspaces = map[string]Colorspace{
		"rgb": ColorspaceRGB, "srgb": ColorspaceSRGB, "cmyk": ColorspaceCMYK,
		"gray": ColorspaceGray, "grey": ColorspaceGray,
	}
	profileName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]{0,63}$`)
)

func intIn(lo, hi int) func(string) (int, error) {
	return func(s string) (int, error) {
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, errors.New("not an integer")
		}
		if n < lo || n > hi {
			return 0, fmt.Errorf("must be between %d and %d", lo, hi)
		}
		return n, nil
	}
}

func unitInterval(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.New("not a number")
	}
	if f < 0 || f > 1 {
		return 0, errors.New("must be between 0 and 1")
	}
	return f, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, errors.New("not a boolean")
	}
}

func parseFormat(s string) (Format, error) {
	f, ok := ParseFormat(s)
	if !ok {
		return "", errors.New("unsupported format")
	}
	return f, nil
}

func parseFlip(s string) (FlipAxis, error) {
	switch strings.ToLower(s) {
	case "h":
		return FlipHorizontal, nil
	case "v":
		return FlipVertical, nil
	case "hv", "vh", "both":
		return FlipBoth, nil
	default:
		return "", errors.New("must be h, v or hv")
	}
}

// parseAngle accepts -360..360 and normalises to 0..359 clockwise.
func parseAngle(s string) (int, error) {
	n, err := intIn(-360, 360)(s)
	if err != nil {
		return 0, err
	}
	return ((n % 360) + 360) % 360, nil
}

func parseTile(s string) (Tile, error) {
	a, b, ok := strings.Cut(s, ":")
	if !ok {
		return Tile{}, errors.New("must be index:grid")
	}
	grid, err := strconv.Atoi(b)
	if err != nil || grid < 2 {
		return Tile{}, errors.New("grid must be an integer of at least 2")
	}
	idx, err := strconv.Atoi(a)
	if err != nil || idx < 1 || idx > grid*grid {
		return Tile{}, fmt.Errorf("index must be between 1 and %d", grid*grid)
	}
	return Tile{Index: idx, Grid: grid}, nil
}

func parseRelPath(s string) (string, error) {
	clean := path.Clean("/" + strings.ReplaceAll(s, "\\", "/"))
	if clean == "/" || strings.Contains(s, "..") {
		return "", errors.New("must be a relative file path")
	}
	return strings.TrimPrefix(clean, "/"), nil
}

func parseProfileName(s string) (string, error) {
	if !profileName.MatchString(s) {
		return "", errors.New("invalid profile name")
	}
	return s, nil
}

func enum[T ~string](values map[string]T) func(string) (T, error) {
	return func(s string) (T, error) {
		v, ok := values[strings.ToLower(s)]
		if !ok {
			return v, errors.New("unknown value")
		}
		return v, nil
	}
}

func formatString[T ~string](v T) string { return string(v) }

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

func identity(s string) string { return s }
