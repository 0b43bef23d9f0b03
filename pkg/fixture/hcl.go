package fixture

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// hclFile is the top level of an HCL fixture: a single function block.
type hclFile struct {
	Function Document `hcl:"function,block"`
}

// ParseHCL decodes an HCL fixture of the form
//
//	function "name" {
//	  param "m" { type = "bool" }
//	  block "entry" { ... }
//	  divergence { ... }
//	}
func ParseHCL(filename string, data []byte) (*Fixture, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL fixture %s: %w", filename, diags)
	}

	var root hclFile
	diags = gohcl.DecodeBody(file.Body, nil, &root)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL fixture %s: %w", filename, diags)
	}
	return Build(&root.Function)
}
