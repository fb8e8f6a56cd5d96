package config

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// hclToJSON evaluates the top-level attributes of an HCL document and encodes
// them as one JSON object. Blocks are not supported; nested data uses object
// syntax:
//
//	greeting = "hello"
//	retry    = { count = 3, delay = "1s" }
func hclToJSON(path string, data []byte) ([]byte, error) {
	file, diags := hclsyntax.ParseConfig(data, path, hcl.InitialPos)
	if diags.HasErrors() {
		return nil, fmt.Errorf("hcl parse %s: %w", path, diags)
	}
	attrs, diags := file.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, fmt.Errorf("hcl attributes %s: %w", path, diags)
	}

	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]json.RawMessage, len(attrs))
	for _, name := range names {
		attr := attrs[name]
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("hcl evaluate %s.%s: %w", path, name, diags)
		}
		if val.IsNull() {
			out[name] = json.RawMessage("null")
			continue
		}
		if !val.IsWhollyKnown() {
			return nil, fmt.Errorf("hcl evaluate %s.%s: value is not known", path, name)
		}
		raw, err := ctyjson.Marshal(val, val.Type())
		if err != nil {
			return nil, fmt.Errorf("hcl encode %s.%s: %w", path, name, err)
		}
		out[name] = raw
	}
	return json.Marshal(out)
}
