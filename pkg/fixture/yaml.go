package fixture

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// ParseYAML decodes a YAML fixture. Unknown keys are rejected.
func ParseYAML(filename string, data []byte) (*Fixture, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: empty fixture: %w", filename, ErrInvalid)
		}
		return nil, fmt.Errorf("failed to decode YAML fixture %s: %w", filename, err)
	}
	return Build(&doc)
}
