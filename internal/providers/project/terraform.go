package project

import (
	"math/big"
	"path"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

// scanTerraform parses every .tf file into terraform ResourceRefs. Provider
// names come from provider blocks and required_providers; the backend is
// the label of the first backend block seen.
func (s *scanner) scanTerraform() models.TerraformDomain {
	var tf models.TerraformDomain
	parser := hclparse.NewParser()
	providers := make(map[string]bool)
	var dirs []string

	for _, f := range s.tree.files {
		switch {
		case strings.HasSuffix(f, ".tfvars"):
			tf.Files = append(tf.Files, f)
			continue
		case strings.HasSuffix(f, ".tf"):
			tf.Files = append(tf.Files, f)
			dirs = append(dirs, path.Dir(f))
		default:
			continue
		}

		src, err := s.tree.read(f)
		if err != nil {
			s.logger.WithError(err).WithField("file", f).Warn("read terraform file failed; skipping")
			continue
		}
		file, diags := parser.ParseHCL(src, f)
		if diags.HasErrors() {
			s.logger.WithError(diags).WithField("file", f).Warn("parse terraform file failed; skipping")
			continue
		}
		body, ok := file.Body.(*hclsyntax.Body)
		if !ok {
			continue
		}

		for _, block := range body.Blocks {
			switch block.Type {
			case "resource":
				if len(block.Labels) < 2 {
					continue
				}
				tf.Resources = append(tf.Resources, models.ResourceRef{
					Domain:     models.DomainTerraform,
					Kind:       block.Labels[0],
					Name:       block.Labels[1],
					SourceFile: f,
					Attributes: bodyAttributes(block.Body, src),
				})
			case "provider":
				if len(block.Labels) > 0 {
					providers[block.Labels[0]] = true
				}
			case "terraform":
				for _, inner := range block.Body.Blocks {
					switch inner.Type {
					case "required_providers":
						for name := range inner.Body.Attributes {
							providers[name] = true
						}
					case "backend", "cloud":
						if tf.Backend != "" {
							continue
						}
						if len(inner.Labels) > 0 {
							tf.Backend = inner.Labels[0]
						} else {
							tf.Backend = inner.Type
						}
					}
				}
			}
		}
	}

	for p := range providers {
		tf.Providers = append(tf.Providers, p)
	}
	sort.Strings(tf.Providers)
	if len(dirs) > 0 {
		tf.Root = depthSorted(dirs)[0]
	}
	return tf
}

// bodyAttributes converts a block body to a plain mapping. Literal values
// are decoded; expressions that need an evaluation context (variables,
// references, functions) are kept as their source text. Nested blocks
// become lists of mappings keyed by block type.
func bodyAttributes(body *hclsyntax.Body, src []byte) map[string]any {
	out := make(map[string]any, len(body.Attributes)+len(body.Blocks))
	for name, attr := range body.Attributes {
		out[name] = exprValue(attr.Expr, src)
	}
	for _, b := range body.Blocks {
		nested := bodyAttributes(b.Body, src)
		if len(b.Labels) > 0 {
			labels := make([]any, 0, len(b.Labels))
			for _, l := range b.Labels {
				labels = append(labels, l)
			}
			nested["_labels"] = labels
		}
		list, _ := out[b.Type].([]any)
		out[b.Type] = append(list, nested)
	}
	return out
}

func exprValue(expr hclsyntax.Expression, src []byte) any {
	v, diags := expr.Value(nil)
	if diags.HasErrors() || !v.IsWhollyKnown() {
		return strings.TrimSpace(string(expr.Range().SliceBytes(src)))
	}
	return ctyToGo(v)
}

// ctyToGo maps a known cty value onto the YAML-ish shapes the rules walk.
func ctyToGo(v cty.Value) any {
	if v.IsNull() {
		return nil
	}
	t := v.Type()
	switch {
	case t.Equals(cty.String):
		return v.AsString()
	case t.Equals(cty.Bool):
		return v.True()
	case t.Equals(cty.Number):
		bf := v.AsBigFloat()
		if i, acc := bf.Int64(); acc == big.Exact {
			return i
		}
		f, _ := bf.Float64()
		return f
	case t.IsListType() || t.IsTupleType() || t.IsSetType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			out = append(out, ctyToGo(ev))
		}
		return out
	case t.IsMapType() || t.IsObjectType():
		out := make(map[string]any, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			out[k.AsString()] = ctyToGo(ev)
		}
		return out
	}
	return nil
}
