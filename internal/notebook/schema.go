package notebook

import (
	"embed"

	"github.com/agentworkforce/labnotes/internal/gateway"
)

//go:embed schema/*.json
var schemaFiles embed.FS

// Schema describes the three notebook collections for the embedded
// gateways: field constraints and reference fields.
func Schema() gateway.Schema {
	relations := Relations()
	collections := map[string]gateway.CollectionSchema{}
	for _, name := range []string{CollectionEntries, CollectionProjects, CollectionTags} {
		doc, err := schemaFiles.ReadFile("schema/" + name + ".json")
		if err != nil {
			panic("notebook: missing schema for " + name)
		}
		collections[name] = gateway.CollectionSchema{
			Name:      name,
			Relations: relations[name],
			Document:  doc,
		}
	}
	return gateway.Schema{Collections: collections}
}
