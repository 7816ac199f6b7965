package render

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/therealutkarshpriyadarshi/logdebug/pkg/types"
	"gopkg.in/yaml.v3"
)

// encodeYAML builds a mapping node so the document keeps field order
func encodeYAML(rec *types.Record) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)

	if err := enc.Encode(yamlMapping(rec)); err != nil {
		return "", fmt.Errorf("failed to encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to encode yaml: %w", err)
	}
	return buf.String(), nil
}

func yamlMapping(rec *types.Record) *yaml.Node {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	if rec == nil {
		return node
	}
	for _, f := range rec.Fields {
		node.Content = append(node.Content, yamlScalar("!!str", f.Name), yamlValue(f))
	}
	return node
}

func yamlValue(f types.Field) *yaml.Node {
	switch v := f.Value.(type) {
	case *types.Record:
		return yamlMapping(v)
	case []types.Field:
		node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range v {
			node.Content = append(node.Content, yamlValue(item))
		}
		return node
	case int64:
		return yamlScalar("!!int", strconv.FormatInt(v, 10))
	case float64:
		return yamlScalar("!!float", types.FormatFloat(v))
	case bool:
		return yamlScalar("!!bool", strconv.FormatBool(v))
	case nil:
		return yamlScalar("!!null", "null")
	default:
		return yamlScalar("!!str", f.Text())
	}
}

func yamlScalar(tag, value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value}
}
