package coord

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// DefaultType is the packaging assumed when a coordinate does not name one.
const DefaultType = "jar"

// DescriptorType is the type of a build descriptor (the module's POM).
const DescriptorType = "pom"

// Coordinate identifies a published package. It is a comparable value type.
type Coordinate struct {
	Group      string `json:"group" yaml:"group"`
	Name       string `json:"name" yaml:"name"`
	Version    string `json:"version" yaml:"version"`
	Type       string `json:"type,omitempty" yaml:"type,omitempty"`
	Classifier string `json:"classifier,omitempty" yaml:"classifier,omitempty"`
}

// New returns a coordinate with the default type.
func New(group, name, version string) Coordinate {
	return Coordinate{Group: group, Name: name, Version: version, Type: DefaultType}
}

// Parse reads g:a:v, g:a:t:v or g:a:t:c:v.
func Parse(s string) (Coordinate, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	var c Coordinate
	switch len(parts) {
	case 3:
		c = Coordinate{Group: parts[0], Name: parts[1], Version: parts[2]}
	case 4:
		c = Coordinate{Group: parts[0], Name: parts[1], Type: parts[2], Version: parts[3]}
	case 5:
		c = Coordinate{Group: parts[0], Name: parts[1], Type: parts[2], Classifier: parts[3], Version: parts[4]}
	default:
		return Coordinate{}, fmt.Errorf("invalid coordinate %q: want group:name[:type[:classifier]]:version", s)
	}
	if c.Group == "" || c.Name == "" || c.Version == "" {
		return Coordinate{}, fmt.Errorf("invalid coordinate %q: empty group, name or version", s)
	}
	return c.Normalize(), nil
}

// MustParse is Parse for literals in tests and defaults.
func MustParse(s string) Coordinate {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Normalize fills the default type.
func (c Coordinate) Normalize() Coordinate {
	if c.Type == "" {
		c.Type = DefaultType
	}
	return c
}

// Ext returns the file extension for the coordinate's type.
func (c Coordinate) Ext() string {
	switch c.Type {
	case "", "bundle", "maven-plugin", "test-jar", "ejb":
		return "jar"
	default:
		return c.Type
	}
}

// WithType returns a copy with a different type.
func (c Coordinate) WithType(t string) Coordinate {
	c.Type = t
	return c
}

// WithClassifier returns a copy with a different classifier.
func (c Coordinate) WithClassifier(classifier string) Coordinate {
	c.Classifier = classifier
	return c
}

// WithVersion returns a copy with a different version.
func (c Coordinate) WithVersion(v string) Coordinate {
	c.Version = v
	return c
}

// Descriptor returns the coordinate of this module's build descriptor.
func (c Coordinate) Descriptor() Coordinate {
	return Coordinate{Group: c.Group, Name: c.Name, Version: c.Version, Type: DescriptorType}
}

// IsDescriptor reports whether c names a build descriptor.
func (c Coordinate) IsDescriptor() bool {
	return c.Type == DescriptorType && c.Classifier == ""
}

// ID returns group:name, the identity shared by every version of a module.
func (c Coordinate) ID() string {
	return c.Group + ":" + c.Name
}

// String renders group:name[:type[:classifier]]:version.
func (c Coordinate) String() string {
	var b strings.Builder
	b.WriteString(c.Group)
	b.WriteByte(':')
	b.WriteString(c.Name)
	if c.Classifier != "" || (c.Type != "" && c.Type != DefaultType) {
		b.WriteByte(':')
		b.WriteString(c.Normalize().Type)
		if c.Classifier != "" {
			b.WriteByte(':')
			b.WriteString(c.Classifier)
		}
	}
	b.WriteByte(':')
	b.WriteString(c.Version)
	return b.String()
}

// Key computes a stable digest for the coordinate, suitable for directory names.
func (c Coordinate) Key() string {
	sum := sha256.Sum256([]byte(c.Normalize().String()))
	return hex.EncodeToString(sum[:])[:24]
}

// Resolved pairs a coordinate with the file it was built or resolved to.
type Resolved struct {
	Coordinate
	File string `json:"file,omitempty"`
}
