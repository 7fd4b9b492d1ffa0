package model

import (
	"regexp"
	"strings"

	"github.com/k8ika0s/source-refinery/internal/coord"
)

// Dependency is a declared dependency after inheritance and interpolation.
type Dependency struct {
	Coordinate coord.Coordinate
	Scope      string
	Optional   bool
	// Exclusions holds group:name patterns; either side may be "*".
	Exclusions []string
}

// Project is the effective description of one module: its own descriptor
// merged with every ancestor, properties interpolated.
type Project struct {
	Coordinate coord.Coordinate
	Packaging  string
	// SCM is the effective source location, inherited when not declared.
	SCM *SCM
	// DeclaresSCM is true only when this module's own descriptor carries SCM
	// metadata.
	DeclaresSCM bool
	// Lineage lists ancestor descriptor coordinates, nearest first.
	Lineage    []coord.Coordinate
	Modules    []string
	Properties map[string]string
	// Managed maps managementKey to the managed version.
	Managed      map[string]string
	Dependencies []Dependency
	// BuildDependencies are plugins and build extensions.
	BuildDependencies []coord.Coordinate
	// File is the descriptor the project was read from, when known.
	File string

	imports        []coord.Coordinate
	managedPlugins map[string]string
}

// Descriptor returns the coordinate of the project's descriptor.
func (p *Project) Descriptor() coord.Coordinate { return p.Coordinate.Descriptor() }

func managementKey(group, name, typ, classifier string) string {
	if typ == "" {
		typ = coord.DefaultType
	}
	return group + ":" + name + ":" + typ + ":" + classifier
}

// ManagedVersion returns the managed version for c, ignoring c's own version.
func (p *Project) ManagedVersion(c coord.Coordinate) (string, bool) {
	v, ok := p.Managed[managementKey(c.Group, c.Name, c.Type, c.Classifier)]
	return v, ok
}

// importManaged adds managed versions from an imported bill of materials
// without overriding entries already present.
func (p *Project) importManaged(bom *Project) {
	for k, v := range bom.Managed {
		if _, ok := p.Managed[k]; !ok {
			p.Managed[k] = v
		}
	}
	p.fillManagedVersions()
}

func (p *Project) fillManagedVersions() {
	for i := range p.Dependencies {
		d := &p.Dependencies[i]
		if d.Coordinate.Version == "" {
			d.Coordinate.Version, _ = p.ManagedVersion(d.Coordinate)
		}
	}
}

// effective merges pom over parent. parent may be nil.
func effective(pom *POM, parent *Project) *Project {
	p := &Project{
		Packaging:      pom.Packaging,
		Modules:        append([]string(nil), pom.Modules...),
		Properties:     make(map[string]string),
		Managed:        make(map[string]string),
		managedPlugins: make(map[string]string),
		DeclaresSCM:    pom.SCM.Declared(),
	}
	if p.Packaging == "" {
		p.Packaging = "jar"
	}
	self := pom.Coordinate()
	if parent != nil {
		for k, v := range parent.Properties {
			p.Properties[k] = v
		}
		for k, v := range parent.Managed {
			p.Managed[k] = v
		}
		for k, v := range parent.managedPlugins {
			p.managedPlugins[k] = v
		}
		p.Lineage = append([]coord.Coordinate{parent.Descriptor()}, parent.Lineage...)
		p.SCM = parent.SCM
		if self.Group == "" {
			self.Group = parent.Coordinate.Group
		}
		if self.Version == "" {
			self.Version = parent.Coordinate.Version
		}
	}
	for k, v := range pom.Properties {
		p.Properties[k] = v
	}
	if p.DeclaresSCM {
		scm := *pom.SCM
		p.SCM = &scm
	}

	in := interpolator(self, parent, p.Properties)
	self.Group, self.Version = in(self.Group), in(self.Version)
	p.Coordinate = self
	p.Properties["project.groupId"] = self.Group
	p.Properties["project.artifactId"] = self.Name
	p.Properties["project.version"] = self.Version
	in = interpolator(self, parent, p.Properties)
	if p.SCM != nil && p.DeclaresSCM {
		p.SCM.Connection, p.SCM.DeveloperConnection = in(p.SCM.Connection), in(p.SCM.DeveloperConnection)
		p.SCM.URL, p.SCM.Tag = in(p.SCM.URL), in(p.SCM.Tag)
	}

	for _, d := range pom.Managed {
		if in(d.Scope) == "import" && in(d.Type) == "pom" {
			p.imports = append(p.imports, coord.Coordinate{Group: in(d.GroupID), Name: in(d.ArtifactID), Version: in(d.Version), Type: coord.DescriptorType})
			continue
		}
		p.Managed[managementKey(in(d.GroupID), in(d.ArtifactID), in(d.Type), in(d.Classifier))] = in(d.Version)
	}
	for _, pl := range pom.ManagedPlug {
		p.managedPlugins[pluginID(in(pl.GroupID), in(pl.ArtifactID))] = in(pl.Version)
	}

	seen := make(map[string]int)
	if parent != nil {
		for _, d := range parent.Dependencies {
			seen[managementKey(d.Coordinate.Group, d.Coordinate.Name, d.Coordinate.Type, d.Coordinate.Classifier)] = len(p.Dependencies)
			p.Dependencies = append(p.Dependencies, d)
		}
	}
	for _, d := range pom.Deps {
		dep := Dependency{
			Coordinate: coord.Coordinate{
				Group:      in(d.GroupID),
				Name:       in(d.ArtifactID),
				Version:    in(d.Version),
				Type:       in(d.Type),
				Classifier: in(d.Classifier),
			}.Normalize(),
			Scope:    in(d.Scope),
			Optional: strings.EqualFold(in(d.Optional), "true"),
		}
		for _, ex := range d.Exclusions {
			dep.Exclusions = append(dep.Exclusions, in(ex.GroupID)+":"+in(ex.ArtifactID))
		}
		key := managementKey(dep.Coordinate.Group, dep.Coordinate.Name, dep.Coordinate.Type, dep.Coordinate.Classifier)
		if i, ok := seen[key]; ok {
			p.Dependencies[i] = dep
			continue
		}
		seen[key] = len(p.Dependencies)
		p.Dependencies = append(p.Dependencies, dep)
	}
	p.fillManagedVersions()

	plugins := make(map[string]bool)
	if parent != nil {
		for _, b := range parent.BuildDependencies {
			plugins[b.ID()] = true
			p.BuildDependencies = append(p.BuildDependencies, b)
		}
	}
	for _, pl := range append(append([]Plugin(nil), pom.Plugins...), pom.Extensions...) {
		c := coord.New(pluginGroup(in(pl.GroupID)), in(pl.ArtifactID), in(pl.Version))
		if c.Version == "" {
			c.Version = p.managedPlugins[c.ID()]
		}
		if c.Version == "" || plugins[c.ID()] {
			continue
		}
		plugins[c.ID()] = true
		p.BuildDependencies = append(p.BuildDependencies, c)
	}
	return p
}

func pluginGroup(g string) string {
	if g == "" {
		return "org.apache.maven.plugins"
	}
	return g
}

func pluginID(group, name string) string { return pluginGroup(group) + ":" + name }

var placeholder = regexp.MustCompile(`\$\{([^}]+)\}`)

// interpolator resolves ${...} references against props and the project's
// own coordinate. Unknown references are left in place.
func interpolator(self coord.Coordinate, parent *Project, props map[string]string) func(string) string {
	lookup := func(key string) (string, bool) {
		switch key {
		case "project.groupId", "pom.groupId", "groupId":
			return self.Group, self.Group != ""
		case "project.artifactId", "pom.artifactId", "artifactId":
			return self.Name, true
		case "project.version", "pom.version", "version":
			return self.Version, self.Version != ""
		case "project.parent.groupId", "parent.groupId":
			if parent != nil {
				return parent.Coordinate.Group, true
			}
		case "project.parent.version", "parent.version":
			if parent != nil {
				return parent.Coordinate.Version, true
			}
		}
		v, ok := props[key]
		return v, ok
	}
	return func(s string) string {
		// nested references resolve within a bounded number of passes
		for i := 0; i < 8 && strings.Contains(s, "${"); i++ {
			next := placeholder.ReplaceAllStringFunc(s, func(m string) string {
				if v, ok := lookup(m[2 : len(m)-1]); ok {
					return v
				}
				return m
			})
			if next == s {
				break
			}
			s = next
		}
		return s
	}
}
