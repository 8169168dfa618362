package spatial

import (
	"errors"
	"fmt"
	"math"
)

// ErrNoOverlap is returned by Intersection when two envelopes share no area.
var ErrNoOverlap = errors.New("envelopes do not overlap")

// Envelope represents an axis-aligned bounding box in 2D space.
// The array form is [MinX, MinY, MaxX, MaxY].
type Envelope struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

// NewEnvelope builds an envelope from two corners, normalising their order.
func NewEnvelope(x1, y1, x2, y2 float64) Envelope {
	return Envelope{
		MinX: math.Min(x1, x2),
		MinY: math.Min(y1, y2),
		MaxX: math.Max(x1, x2),
		MaxY: math.Max(y1, y2),
	}
}

// EnvelopeFromArray converts the [min..., max...] array form into an Envelope.
func EnvelopeFromArray(a [4]float64) Envelope {
	return Envelope{MinX: a[0], MinY: a[1], MaxX: a[2], MaxY: a[3]}
}

// Array returns the envelope in [min..., max...] form.
func (e Envelope) Array() [4]float64 {
	return [4]float64{e.MinX, e.MinY, e.MaxX, e.MaxY}
}

// Valid reports whether min <= max on both axes.
func (e Envelope) Valid() bool {
	return e.MinX <= e.MaxX && e.MinY <= e.MaxY
}

func (e Envelope) String() string {
	return fmt.Sprintf("[%g %g %g %g]", e.MinX, e.MinY, e.MaxX, e.MaxY)
}

// Intersects checks if two envelopes overlap or touch on every axis.
func (e Envelope) Intersects(other Envelope) bool {
	return e.MinX <= other.MaxX && e.MaxX >= other.MinX &&
		e.MinY <= other.MaxY && e.MaxY >= other.MinY
}

// Contains checks if the envelope contains another envelope.
func (e Envelope) Contains(other Envelope) bool {
	return e.MinX <= other.MinX && e.MaxX >= other.MaxX &&
		e.MinY <= other.MinY && e.MaxY >= other.MaxY
}

// Union returns the envelope that encloses both envelopes.
func (e Envelope) Union(other Envelope) Envelope {
	return Envelope{
		MinX: math.Min(e.MinX, other.MinX),
		MinY: math.Min(e.MinY, other.MinY),
		MaxX: math.Max(e.MaxX, other.MaxX),
		MaxY: math.Max(e.MaxY, other.MaxY),
	}
}

// Intersection returns the shared part of two envelopes. Envelopes that only
// touch yield a degenerate (zero width or height) result; disjoint envelopes
// yield ErrNoOverlap.
func (e Envelope) Intersection(other Envelope) (Envelope, error) {
	if !e.Intersects(other) {
		return Envelope{}, ErrNoOverlap
	}
	return Envelope{
		MinX: math.Max(e.MinX, other.MinX),
		MinY: math.Max(e.MinY, other.MinY),
		MaxX: math.Min(e.MaxX, other.MaxX),
		MaxY: math.Min(e.MaxY, other.MaxY),
	}, nil
}

// Area calculates the area of the envelope.
func (e Envelope) Area() float64 {
	if e.MinX > e.MaxX || e.MinY > e.MaxY {
		return 0
	}
	return (e.MaxX - e.MinX) * (e.MaxY - e.MinY)
}

// Margin is the sum of the edge lengths (half the perimeter).
func (e Envelope) Margin() float64 {
	return (e.MaxX - e.MinX) + (e.MaxY - e.MinY)
}

// Enlargement calculates the increase in area if this envelope were to be
// enlarged to include another envelope.
func (e Envelope) Enlargement(other Envelope) float64 {
	return e.Union(other).Area() - e.Area()
}

// MarginEnlargement is the Margin counterpart of Enlargement.
func (e Envelope) MarginEnlargement(other Envelope) float64 {
	return e.Union(other).Margin() - e.Margin()
}

// Center returns the mid coordinate of the given axis (0 = x, 1 = y).
func (e Envelope) Center(axis int) float64 {
	if axis == 0 {
		return (e.MinX + e.MaxX) / 2
	}
	return (e.MinY + e.MaxY) / 2
}

// Min returns the lower bound on the given axis.
func (e Envelope) Min(axis int) float64 {
	if axis == 0 {
		return e.MinX
	}
	return e.MinY
}

// Max returns the upper bound on the given axis.
func (e Envelope) Max(axis int) float64 {
	if axis == 0 {
		return e.MaxX
	}
	return e.MaxY
}

// OverlapMargin is the margin of the shared part of two envelopes, 0 if they
// are disjoint.
func (e Envelope) OverlapMargin(other Envelope) float64 {
	in, err := e.Intersection(other)
	if err != nil {
		return 0
	}
	return in.Margin()
}
