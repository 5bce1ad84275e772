package example

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dgryski/go-spooky"
)

// #region errors
var (
	ErrMalformedLabel   = errors.New("malformed label")
	ErrMalformedFeature = errors.New("malformed feature")
)

// #endregion errors

// #region label-kind
// LabelKind selects how the label portion of a line is interpreted.
type LabelKind int

const (
	SimpleLabels LabelKind = iota
	CostLabels
)

// #endregion label-kind

// #region parse-line
// ParseLine parses a text example of the form
//
//	<label> ['tag] | [namespace] feature[:value] ... [| namespace ...]
//
// Simple labels are "label [weight [initial]]"; cost labels are a list of
// "class[:cost]" tokens where a missing cost means the cost is unknown.
func ParseLine(line string, kind LabelKind) (*Example, error) {
	head, body, _ := strings.Cut(line, "|")

	ex := &Example{Weight: 1}
	tokens := strings.Fields(head)
	if n := len(tokens); n > 0 && strings.HasPrefix(tokens[n-1], "'") {
		ex.Tag = tokens[n-1][1:]
		tokens = tokens[:n-1]
	}

	switch kind {
	case CostLabels:
		costs, err := ParseCostLabel(tokens)
		if err != nil {
			return nil, err
		}
		ex.Costs = costs
		ex.Simple = SimpleLabel{Label: Unlabeled, Weight: 1}
	default:
		lbl, err := ParseSimpleLabel(tokens)
		if err != nil {
			return nil, err
		}
		ex.Simple = lbl
		ex.Weight = lbl.Weight
	}

	if body != "" {
		feats, err := parseFeatures(body)
		if err != nil {
			return nil, err
		}
		ex.Features = feats
	}
	return ex, nil
}

// #endregion parse-line

// #region label-parsers
// ParseSimpleLabel parses "label [weight [initial]]". No tokens yields an
// unlabeled example with unit weight.
func ParseSimpleLabel(tokens []string) (SimpleLabel, error) {
	lbl := SimpleLabel{Label: Unlabeled, Weight: 1}
	switch len(tokens) {
	case 0:
		return lbl, nil
	case 1, 2, 3:
	default:
		return SimpleLabel{}, fmt.Errorf("%w: %d label tokens: %q", ErrMalformedLabel, len(tokens), strings.Join(tokens, " "))
	}

	vals := make([]float64, len(tokens))
	for i, tok := range tokens {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return SimpleLabel{}, fmt.Errorf("%w: %q", ErrMalformedLabel, tok)
		}
		vals[i] = v
	}
	lbl.Label = vals[0]
	if len(vals) > 1 {
		lbl.Weight = vals[1]
	}
	if len(vals) > 2 {
		lbl.Initial = vals[2]
	}
	return lbl, nil
}

// ParseCostLabel parses a list of "class[:cost]" tokens. Class indices are
// 1-based; a token without a cost gets the Unlabeled cost.
func ParseCostLabel(tokens []string) ([]WClass, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	costs := make([]WClass, 0, len(tokens))
	for _, tok := range tokens {
		if tok == "shared" {
			continue
		}
		idxStr, costStr, hasCost := strings.Cut(tok, ":")
		idx, err := strconv.ParseUint(idxStr, 10, 32)
		if err != nil || idx == 0 {
			return nil, fmt.Errorf("%w: bad class index in %q", ErrMalformedLabel, tok)
		}
		cost := float64(Unlabeled)
		if hasCost {
			cost, err = strconv.ParseFloat(costStr, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad cost in %q", ErrMalformedLabel, tok)
			}
		}
		costs = append(costs, WClass{ClassIndex: uint32(idx), Cost: cost})
	}
	return costs, nil
}

// #endregion label-parsers

// #region features
func parseFeatures(body string) ([]Feature, error) {
	var feats []Feature
	for _, seg := range strings.Split(body, "|") {
		ns := ""
		scale := 1.0
		if seg != "" && seg[0] != ' ' && seg[0] != '\t' {
			nsTok, rest, _ := strings.Cut(seg, " ")
			seg = rest
			name, s, hasScale := strings.Cut(nsTok, ":")
			ns = name
			if hasScale {
				v, err := strconv.ParseFloat(s, 64)
				if err != nil {
					return nil, fmt.Errorf("%w: namespace scale %q", ErrMalformedFeature, nsTok)
				}
				scale = v
			}
		}
		for _, tok := range strings.Fields(seg) {
			name, valStr, hasVal := strings.Cut(tok, ":")
			val := 1.0
			if hasVal {
				v, err := strconv.ParseFloat(valStr, 64)
				if err != nil {
					return nil, fmt.Errorf("%w: %q", ErrMalformedFeature, tok)
				}
				val = v
			}
			if val == 0 {
				continue
			}
			feats = append(feats, Feature{Index: HashFeature(ns, name), Value: val * scale})
		}
	}
	return feats, nil
}

// HashFeature maps a namespaced feature name to its sparse index.
func HashFeature(namespace, name string) uint64 {
	return spooky.Hash64([]byte(namespace + "^" + name))
}

// #endregion features
