package config

import "gopkg.in/yaml.v3"

// legacyKeys maps a deprecated top-level or dotted key to the new struct-tag path it has
// been renamed to. jicofo's config has been reshaped more than once across its history;
// operators upgrading from an older deployment should not have to rewrite their YAML by
// hand the same week they upgrade the binary.
var legacyKeys = map[string]string{
	"domain":           "xmpp.domain",
	"muc_subdomain":    "xmpp.subdomain",
	"focus_secret":     "xmpp.secret",
	"bridge_selection": "bridge.selection",
}

// applyLegacyKeys rewrites any top-level key of node matching legacyKeys onto its new
// dotted path, constructing intermediate mapping nodes as needed. It mutates node in
// place and is a no-op for documents that only use current keys.
func applyLegacyKeys(node *yaml.Node) {
	if node.Kind != yaml.DocumentNode || len(node.Content) == 0 {
		return
	}
	root := node.Content[0]
	if root.Kind != yaml.MappingNode {
		return
	}

	for i := 0; i < len(root.Content)-1; i += 2 {
		key := root.Content[i]
		newPath, legacy := legacyKeys[key.Value]
		if !legacy {
			continue
		}
		value := root.Content[i+1]
		setDottedPath(root, newPath, value)

		root.Content = append(root.Content[:i], root.Content[i+2:]...)
		i -= 2
	}
}

// setDottedPath assigns value at path (e.g. "xmpp.secret") under mapping root, creating
// any intermediate mapping nodes that don't yet exist. An existing value at a leaf that
// path would overwrite is left untouched instead, so a document that sets both the
// legacy and the new key prefers the new one.
func setDottedPath(root *yaml.Node, path string, value *yaml.Node) {
	segments := splitPath(path)
	current := root

	for i, seg := range segments {
		last := i == len(segments)-1

		var found *yaml.Node
		for j := 0; j < len(current.Content)-1; j += 2 {
			if current.Content[j].Value == seg {
				found = current.Content[j+1]
				break
			}
		}

		if last {
			if found != nil {
				return
			}
			current.Content = append(current.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: seg}, value)
			return
		}

		if found == nil {
			next := &yaml.Node{Kind: yaml.MappingNode}
			current.Content = append(current.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: seg}, next)
			found = next
		}
		current = found
	}
}

func splitPath(path string) []string {
	var segments []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			segments = append(segments, path[start:i])
			start = i + 1
		}
	}
	segments = append(segments, path[start:])
	return segments
}
