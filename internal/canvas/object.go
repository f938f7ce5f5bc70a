package canvas

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrDuplicateObjectID   = errors.New("duplicate object id")
	ErrUnknownTargetObject = errors.New("unknown target object")
	ErrInvalidObject       = errors.New("invalid canvas object")
)

// Kind is the type of a drawn element
type Kind string

const (
	KindPath Kind = "path"
	KindLine Kind = "line"
	KindRect Kind = "rect"
)

// Valid reports whether k is one of the known element kinds
func (k Kind) Valid() bool {
	switch k {
	case KindPath, KindLine, KindRect:
		return true
	}
	return false
}

// Style holds the stroke settings of an element
type Style struct {
	StrokeColor string  `json:"strokeColor"`
	StrokeWidth float64 `json:"strokeWidth"`
	Fill        string  `json:"fill,omitempty"`
}

// Object is a single drawable element. Geometry is opaque to the relay and
// is only decoded by rendering code.
type Object struct {
	ID       string          `json:"id"`
	Kind     Kind            `json:"kind"`
	Geometry json.RawMessage `json:"geometry,omitempty"`
	Style    Style           `json:"style"`
	OwnerID  string          `json:"ownerId,omitempty"`
}

// Point is a canvas coordinate
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PathGeometry is the geometry of a freehand stroke
type PathGeometry struct {
	Points []Point `json:"points"`
}

// LineGeometry is the geometry of a straight line segment
type LineGeometry struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// RectGeometry is the geometry of an axis-aligned rectangle
type RectGeometry struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// NewObject builds an object, encoding geometry as JSON
func NewObject(id string, kind Kind, ownerID string, geometry any, style Style) (Object, error) {
	data, err := json.Marshal(geometry)
	if err != nil {
		return Object{}, fmt.Errorf("encode %s geometry: %w", kind, err)
	}
	obj := Object{
		ID:       id,
		Kind:     kind,
		Geometry: data,
		Style:    style,
		OwnerID:  ownerID,
	}
	return obj, obj.Validate()
}

// Validate checks the fields every object must carry
func (o Object) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidObject)
	}
	if !o.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidObject, o.Kind)
	}
	if len(o.Geometry) > 0 && !json.Valid(o.Geometry) {
		return fmt.Errorf("%w: geometry of %s is not valid JSON", ErrInvalidObject, o.ID)
	}
	return nil
}

// DecodeGeometry unmarshals the geometry payload into v
func (o Object) DecodeGeometry(v any) error {
	if len(o.Geometry) == 0 {
		return fmt.Errorf("%w: %s has no geometry", ErrInvalidObject, o.ID)
	}
	return json.Unmarshal(o.Geometry, v)
}

// Clone returns a deep copy so later mutation of either value leaves the
// other untouched.
func (o Object) Clone() Object {
	c := o
	if o.Geometry != nil {
		c.Geometry = append(json.RawMessage(nil), o.Geometry...)
	}
	return c
}

// Equal compares two objects field by field, geometry bytewise
func (o Object) Equal(other Object) bool {
	return o.ID == other.ID &&
		o.Kind == other.Kind &&
		o.Style == other.Style &&
		o.OwnerID == other.OwnerID &&
		string(o.Geometry) == string(other.Geometry)
}

// CloneAll deep copies a slice of objects
func CloneAll(objs []Object) []Object {
	if objs == nil {
		return nil
	}
	out := make([]Object, len(objs))
	for i, o := range objs {
		out[i] = o.Clone()
	}
	return out
}

// IDs returns the ids of objs in order
func IDs(objs []Object) []string {
	ids := make([]string, len(objs))
	for i, o := range objs {
		ids[i] = o.ID
	}
	return ids
}

// Patch is a partial object state. Nil fields are left as they are.
type Patch struct {
	Geometry    json.RawMessage `json:"geometry,omitempty"`
	StrokeColor *string         `json:"strokeColor,omitempty"`
	StrokeWidth *float64        `json:"strokeWidth,omitempty"`
	Fill        *string         `json:"fill,omitempty"`
}

// Empty reports whether the patch changes nothing
func (p Patch) Empty() bool {
	return len(p.Geometry) == 0 && p.StrokeColor == nil && p.StrokeWidth == nil && p.Fill == nil
}

// ApplyTo merges the patch into a copy of o
func (p Patch) ApplyTo(o Object) Object {
	out := o.Clone()
	if len(p.Geometry) > 0 {
		out.Geometry = append(json.RawMessage(nil), p.Geometry...)
	}
	if p.StrokeColor != nil {
		out.Style.StrokeColor = *p.StrokeColor
	}
	if p.StrokeWidth != nil {
		out.Style.StrokeWidth = *p.StrokeWidth
	}
	if p.Fill != nil {
		out.Style.Fill = *p.Fill
	}
	return out
}

// PatchFrom returns a patch that sets every mutable field to the state of o
func PatchFrom(o Object) Patch {
	color, width, fill := o.Style.StrokeColor, o.Style.StrokeWidth, o.Style.Fill
	return Patch{
		Geometry:    append(json.RawMessage(nil), o.Geometry...),
		StrokeColor: &color,
		StrokeWidth: &width,
		Fill:        &fill,
	}
}
