// Package model reads Maven project descriptors and turns them into
// effective project descriptions and dependency trees.
package model

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/k8ika0s/source-refinery/internal/coord"
)

// POM is the subset of a Maven project descriptor the refinery reads.
type POM struct {
	XMLName     xml.Name   `xml:"project"`
	GroupID     string     `xml:"groupId"`
	ArtifactID  string     `xml:"artifactId"`
	Version     string     `xml:"version"`
	Packaging   string     `xml:"packaging"`
	Parent      *ParentRef `xml:"parent"`
	SCM         *SCM       `xml:"scm"`
	Modules     []string   `xml:"modules>module"`
	Properties  Properties `xml:"properties"`
	Managed     []Dep      `xml:"dependencyManagement>dependencies>dependency"`
	Deps        []Dep      `xml:"dependencies>dependency"`
	Plugins     []Plugin   `xml:"build>plugins>plugin"`
	ManagedPlug []Plugin   `xml:"build>pluginManagement>plugins>plugin"`
	Extensions  []Plugin   `xml:"build>extensions>extension"`
}

type ParentRef struct {
	GroupID      string `xml:"groupId"`
	ArtifactID   string `xml:"artifactId"`
	Version      string `xml:"version"`
	RelativePath string `xml:"relativePath"`
}

// SCM is the upstream source location metadata.
type SCM struct {
	Connection          string `xml:"connection" json:"connection,omitempty" yaml:"connection,omitempty"`
	DeveloperConnection string `xml:"developerConnection" json:"developerConnection,omitempty" yaml:"developerConnection,omitempty"`
	URL                 string `xml:"url" json:"url,omitempty" yaml:"url,omitempty"`
	Tag                 string `xml:"tag" json:"tag,omitempty" yaml:"tag,omitempty"`
}

// Declared reports whether any location field is set.
func (s *SCM) Declared() bool {
	return s != nil && (s.Connection != "" || s.DeveloperConnection != "" || s.URL != "")
}

type Dep struct {
	GroupID    string      `xml:"groupId"`
	ArtifactID string      `xml:"artifactId"`
	Version    string      `xml:"version"`
	Type       string      `xml:"type"`
	Classifier string      `xml:"classifier"`
	Scope      string      `xml:"scope"`
	Optional   string      `xml:"optional"`
	Exclusions []Exclusion `xml:"exclusions>exclusion"`
}

type Exclusion struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
}

type Plugin struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Version    string `xml:"version"`
}

// Properties holds the free-form <properties> element.
type Properties map[string]string

func (p *Properties) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	out := make(Properties)
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var v string
			if err := d.DecodeElement(&v, &t); err != nil {
				return err
			}
			out[t.Name.Local] = strings.TrimSpace(v)
		case xml.EndElement:
			*p = out
			return nil
		}
	}
}

// ParsePOM decodes a descriptor and trims every coordinate field.
func ParsePOM(r io.Reader) (*POM, error) {
	var p POM
	dec := xml.NewDecoder(r)
	dec.Strict = false
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode pom: %w", err)
	}
	p.trim()
	if p.ArtifactID == "" {
		return nil, fmt.Errorf("decode pom: missing artifactId")
	}
	return &p, nil
}

// ParsePOMFile reads and decodes the descriptor at path.
func ParsePOMFile(path string) (*POM, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	p, err := ParsePOM(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func (p *POM) trim() {
	ts := strings.TrimSpace
	p.GroupID, p.ArtifactID, p.Version, p.Packaging = ts(p.GroupID), ts(p.ArtifactID), ts(p.Version), ts(p.Packaging)
	if p.Parent != nil {
		p.Parent.GroupID, p.Parent.ArtifactID, p.Parent.Version = ts(p.Parent.GroupID), ts(p.Parent.ArtifactID), ts(p.Parent.Version)
		p.Parent.RelativePath = ts(p.Parent.RelativePath)
	}
	if p.SCM != nil {
		p.SCM.Connection, p.SCM.DeveloperConnection = ts(p.SCM.Connection), ts(p.SCM.DeveloperConnection)
		p.SCM.URL, p.SCM.Tag = ts(p.SCM.URL), ts(p.SCM.Tag)
	}
	for i := range p.Modules {
		p.Modules[i] = ts(p.Modules[i])
	}
	for _, deps := range [][]Dep{p.Deps, p.Managed} {
		for i := range deps {
			d := &deps[i]
			d.GroupID, d.ArtifactID, d.Version = ts(d.GroupID), ts(d.ArtifactID), ts(d.Version)
			d.Type, d.Classifier, d.Scope, d.Optional = ts(d.Type), ts(d.Classifier), ts(d.Scope), ts(d.Optional)
		}
	}
	for _, plugs := range [][]Plugin{p.Plugins, p.ManagedPlug, p.Extensions} {
		for i := range plugs {
			pl := &plugs[i]
			pl.GroupID, pl.ArtifactID, pl.Version = ts(pl.GroupID), ts(pl.ArtifactID), ts(pl.Version)
		}
	}
}

// Coordinate returns the descriptor's own coordinate with group and version
// inherited from the parent reference when absent. Properties are not
// interpolated.
func (p *POM) Coordinate() coord.Coordinate {
	g, v := p.GroupID, p.Version
	if p.Parent != nil {
		if g == "" {
			g = p.Parent.GroupID
		}
		if v == "" {
			v = p.Parent.Version
		}
	}
	return coord.Coordinate{Group: g, Name: p.ArtifactID, Version: v, Type: ArtifactType(p.Packaging)}
}

// ParentCoordinate is the parent's descriptor coordinate.
func (p *POM) ParentCoordinate() (coord.Coordinate, bool) {
	if p.Parent == nil || p.Parent.ArtifactID == "" {
		return coord.Coordinate{}, false
	}
	return coord.Coordinate{Group: p.Parent.GroupID, Name: p.Parent.ArtifactID, Version: p.Parent.Version, Type: coord.DescriptorType}, true
}

// ArtifactType maps a packaging to the type of the main artifact it produces.
func ArtifactType(packaging string) string {
	switch packaging {
	case "", "jar", "bundle", "maven-plugin", "eclipse-plugin", "ejb":
		return coord.DefaultType
	default:
		return packaging
	}
}
