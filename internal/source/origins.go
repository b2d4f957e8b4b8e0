package source

import (
	_ "embed"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed origins.yaml
var originsYAML []byte

// OriginLookup maps origin tokens to distillery display names. Static
// reference data: detail pages occasionally omit the distillery name, the
// token is always present in the cask code.
type OriginLookup map[string]string

// LoadOrigins parses the embedded origin table.
func LoadOrigins() (OriginLookup, error) {
	return ParseOrigins(originsYAML)
}

// ParseOrigins parses an origin table from YAML.
func ParseOrigins(data []byte) (OriginLookup, error) {
	var raw struct {
		Origins map[string]string `yaml:"origins"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrap(err, "source: parse origins yaml")
	}
	return OriginLookup(raw.Origins), nil
}

// Name returns the display name for a token, or "" when unknown.
func (l OriginLookup) Name(token string) string {
	return l[token]
}
