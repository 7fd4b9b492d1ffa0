// Package repository resolves published files from Maven-layout
// repositories and installs files into a target repository.
package repository

import (
	"path"
	"strings"

	"github.com/k8ika0s/source-refinery/internal/coord"
)

// Path returns the slash-separated repository path of c:
// group/as/dirs/name/version/name-version[-classifier].ext
func Path(c coord.Coordinate) string {
	c = c.Normalize()
	file := c.Name + "-" + c.Version
	if c.Classifier != "" {
		file += "-" + c.Classifier
	}
	file += "." + c.Ext()
	return path.Join(strings.ReplaceAll(c.Group, ".", "/"), c.Name, c.Version, file)
}
