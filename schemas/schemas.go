// Package schemas embeds the JSON schemas shipped with the repository.
package schemas

import _ "embed"

//go:embed tuning.schema.json
var Tuning []byte
