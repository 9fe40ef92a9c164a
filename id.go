package automation

import "github.com/Nine-Minds/alga-psa-sub020/id"

// ID is the primary identifier type for all automation entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
