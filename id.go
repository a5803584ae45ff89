package browserq

import "github.com/browserq/browserq/id"

// ID is the primary identifier type for all browserq entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
